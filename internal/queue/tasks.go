package queue

import "context"

const TypeIngestDocument = "ingest:document"

type IngestPayload struct {
	DocumentID  string `json:"document_id"`
	WorkspaceID string `json:"workspace_id"`
}

// Enqueuer schedules document ingestion, either on asynq or in process.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, payload IngestPayload) error
	Close() error
}

// Processor runs ingestion for one document.
type Processor interface {
	Process(ctx context.Context, documentID string) error
}
