package vetz

import "time"

// BatchProvenance describes a completed batch execution for downstream
// lineage tooling. Attached to a Summary when the batch was built with
// WithProvenance(true).
type BatchProvenance struct {
	BatchID         string        `json:"batch_id"`
	Operation       string        `json:"operation"`
	SchemaHash      string        `json:"schema_hash,omitempty"`
	TotalItems      int           `json:"total_items"`
	SuccessfulItems int           `json:"successful_items"`
	ProcessingTime  time.Duration `json:"processing_time"`
	CompletedAt     time.Time     `json:"completed_at"`
}

// StreamProvenance is the lineage record a Stream accumulates when built
// with WithProvenance. Retrievable via GetProvenance once the stream
// completes.
type StreamProvenance struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	SchemaName  Name      `json:"schema_name"`
	SchemaHash  string    `json:"schema_hash"`
	Version     string    `json:"version"`
	Records     int64     `json:"records"`
}

// Version is the library version recorded in provenance output.
const Version = "0.1.0"
