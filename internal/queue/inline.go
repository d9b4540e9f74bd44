package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("queue closed")

// Inline runs ingestion in background goroutines of the API process, at
// most concurrency at a time. Jobs are lost if the process exits.
type Inline struct {
	proc   Processor
	sem    chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewInline(proc Processor, concurrency int, logger *slog.Logger) *Inline {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Inline{
		proc:   proc,
		sem:    make(chan struct{}, concurrency),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// EnqueueIngest returns immediately; the job does not inherit ctx so it
// outlives the HTTP request that scheduled it.
func (q *Inline) EnqueueIngest(ctx context.Context, payload IngestPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case q.sem <- struct{}{}:
		case <-q.ctx.Done():
			return
		}
		defer func() { <-q.sem }()

		if err := q.proc.Process(q.ctx, payload.DocumentID); err != nil {
			q.logger.Error("ingest failed", "document_id", payload.DocumentID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every accepted job has finished.
func (q *Inline) Wait() {
	q.wg.Wait()
}

// Close stops accepting jobs and waits for accepted ones to finish.
func (q *Inline) Close() error {
	return q.Shutdown(context.Background())
}

// Shutdown is Close with a deadline: once ctx is done, running jobs are
// cancelled and jobs still waiting for a slot are dropped.
func (q *Inline) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
