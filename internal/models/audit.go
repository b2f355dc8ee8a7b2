package models

import (
	"encoding/json"
	"time"
)

// Audit action tags, matching one security-relevant operation each.
const (
	AuditActionRegister       = "register"
	AuditActionLogin          = "login"
	AuditActionTokenRefresh   = "token_refresh"
	AuditActionProfileUpdate  = "profile_update"
	AuditActionCreateAPIKey   = "create_api_key"
	AuditActionDeleteAPIKey   = "delete_api_key"
	AuditActionExtract        = "extract_fhir"
	AuditActionListUsers      = "list_users"
	AuditActionListAuditLogs  = "list_audit_logs"
	AuditActionExportAuditLog = "export_audit_logs"
)

// Audit outcomes.
const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

// AuditLog is an immutable, append-only security event record.
type AuditLog struct {
	ID        string          `db:"id" json:"id"`
	UserID    *string         `db:"user_id" json:"user_id,omitempty"`
	Action    string          `db:"action" json:"action"`
	Resource  *string         `db:"resource" json:"resource,omitempty"`
	Status    string          `db:"status" json:"status"`
	IPAddress *string         `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string         `db:"user_agent" json:"user_agent,omitempty"`
	Details   json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
