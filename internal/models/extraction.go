package models

import (
	"encoding/json"
	"time"
)

// ExtractionResult wraps the FHIR bundle returned by the extraction
// pipeline together with the stored document reference.
type ExtractionResult struct {
	DocumentID  string          `json:"document_id"`
	Filename    string          `json:"filename"`
	ContentType string          `json:"content_type"`
	SizeBytes   int64           `json:"size_bytes"`
	Bundle      json.RawMessage `json:"bundle"`
	ProcessedAt time.Time       `json:"processed_at"`
	StoragePath string          `json:"-"`
	SubmittedBy string          `json:"-"`
}
