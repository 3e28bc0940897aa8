// Package publish drains the publish queue in the background. The pipeline
// only enqueues; delivery, retries, and backoff all live here so a slow or
// flaky publisher never stalls a run.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/herald/internal/storage"
)

// JobStore abstracts the job queue and content lookup operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetContentByUUID(id string) (storage.ContentRecord, error)
}

// Draft is the finalized content handed to the publisher.
type Draft struct {
	ContentID string
	Body      []string
	Kind      string
	ImageRef  string
}

// Publisher delivers a draft to the outside world and returns an
// acknowledgment reference (platform id, schedule slot, etc.).
type Publisher interface {
	Publish(ctx context.Context, draft Draft) (string, error)
}

// Worker processes publish_content jobs from the job queue.
type Worker struct {
	store     JobStore
	publisher Publisher
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 2s.
func NewWorker(store JobStore, publisher Publisher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Worker{
		store:     store,
		publisher: publisher,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("publish worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single publish_content job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{"publish_content"})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("publish job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type publishPayload struct {
	ContentUUID string `json:"content_uuid"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload publishPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	record, err := w.store.GetContentByUUID(payload.ContentUUID)
	if err != nil {
		return fmt.Errorf("loading content %s: %w", payload.ContentUUID, err)
	}

	var body []string
	if err := json.Unmarshal([]byte(record.Body), &body); err != nil {
		return fmt.Errorf("parsing content body %s: %w", record.UUID, err)
	}

	ack, err := w.publisher.Publish(ctx, Draft{
		ContentID: record.UUID,
		Body:      body,
		Kind:      record.Kind,
		ImageRef:  record.ImageRef,
	})
	if err != nil {
		return fmt.Errorf("publishing content %s: %w", record.UUID, err)
	}

	w.logger.Info("content published", "content_id", record.UUID, "ack", ack)
	return nil
}
