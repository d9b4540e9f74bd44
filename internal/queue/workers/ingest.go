package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/ragdesk/internal/ingest"
	"github.com/nikhilbhutani/ragdesk/internal/queue"
)

// IngestWorker runs queued ingest:document tasks.
type IngestWorker struct {
	proc queue.Processor
}

func NewIngestWorker(proc queue.Processor) *IngestWorker {
	return &IngestWorker{proc: proc}
}

func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.DocumentID == "" {
		return fmt.Errorf("payload has no document_id: %w", asynq.SkipRetry)
	}

	err := w.proc.Process(ctx, payload.DocumentID)
	if errors.Is(err, ingest.ErrUnprocessable) {
		slog.Warn("document rejected", "document_id", payload.DocumentID, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
