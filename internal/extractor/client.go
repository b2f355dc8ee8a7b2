package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client submits clinical documents to the external extraction pipeline
// and returns the resulting FHIR bundle. The pipeline itself (OCR,
// retrieval, LLM prompting) lives behind this boundary.
type Client interface {
	Extract(ctx context.Context, filename, contentType string, document io.Reader) (json.RawMessage, error)
}

// HTTPClient forwards documents to the extraction service over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient builds a client for the given base URL. Every call carries
// the configured timeout so a stalled pipeline fails the request, not the
// process.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Extract uploads the document and decodes the returned bundle.
func (c *HTTPClient) Extract(ctx context.Context, filename, contentType string, document io.Reader) (json.RawMessage, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build extraction form: %w", err)
	}
	if _, err := io.Copy(part, document); err != nil {
		return nil, fmt.Errorf("copy document into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize extraction form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract-fhir", body)
	if err != nil {
		return nil, fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if contentType != "" {
		req.Header.Set("X-Document-Content-Type", contentType)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extraction service: %w", err)
	}
	defer res.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read extraction response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction service returned %d", res.StatusCode)
	}

	if !json.Valid(payload) {
		return nil, fmt.Errorf("extraction service returned invalid JSON")
	}

	return json.RawMessage(payload), nil
}
