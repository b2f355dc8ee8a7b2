package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clinfhir/extractor-api/internal/models"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
	"github.com/clinfhir/extractor-api/pkg/response"
)

// ContextUserKey is the gin context key storing the resolved caller.
const ContextUserKey = "currentUser"

type tokenVerifier interface {
	VerifyToken(tokenString string, expected models.TokenType) (*models.Claims, error)
	CurrentUser(ctx context.Context, userID string) (*models.User, error)
}

type apiKeyResolver interface {
	Resolve(ctx context.Context, presented string) (*models.User, error)
	Prefix() string
}

// Auth resolves the bearer credential to a user and blocks the request
// when nothing resolves. Credentials with the API key prefix go straight
// to key lookup; anything else is tried as an access token first with an
// API key fallback, so both credential kinds work on every protected
// route.
func Auth(tokens tokenVerifier, keys apiKeyResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}
		credential := strings.TrimSpace(parts[1])

		user, err := resolveIdentity(c, tokens, keys, credential)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		if !user.Active {
			response.Error(c, appErrors.ErrInactiveAccount)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

func resolveIdentity(c *gin.Context, tokens tokenVerifier, keys apiKeyResolver, credential string) (*models.User, error) {
	ctx := c.Request.Context()

	if strings.HasPrefix(credential, keys.Prefix()) {
		return keys.Resolve(ctx, credential)
	}

	claims, err := tokens.VerifyToken(credential, models.TokenTypeAccess)
	if err == nil {
		user, lookupErr := tokens.CurrentUser(ctx, claims.UserID())
		if lookupErr != nil {
			// A valid token whose subject no longer exists is an
			// unresolvable credential, not a missing resource.
			if appErrors.FromError(lookupErr).Code == appErrors.ErrNotFound.Code {
				return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authentication credentials")
			}
			return nil, lookupErr
		}
		return user, nil
	}

	user, keyErr := keys.Resolve(ctx, credential)
	if keyErr != nil {
		// Report the token failure; the credential did not look like a key.
		return nil, err
	}
	return user, nil
}
