package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/service"
)

const (
	// MaxRetries is the maximum number of attempts for a failed job
	MaxRetries = 3

	claimBatchSize = 100
)

// IndexJobRepository defines the queue operations the worker needs.
type IndexJobRepository interface {
	// ClaimPending retrieves and claims pending index jobs. Concurrent
	// workers claim disjoint batches.
	ClaimPending(ctx context.Context, limit int) ([]*domain.IndexJob, error)

	// UpdateStatus updates the status of an index job
	UpdateStatus(ctx context.Context, id string, status domain.IndexJobStatus, errMsg string) error

	// Requeue puts a transiently failed job back to pending
	Requeue(ctx context.Context, id string, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, id string) error
}

// IndexingService runs the synchronous indexing and removal disciplines.
// Implemented by service.IndexingPipeline.
type IndexingService interface {
	IndexDocument(ctx context.Context, kbID, documentID string) (*service.IndexResult, error)
	RemoveDocument(ctx context.Context, kbID, documentID string) (bool, error)
}

// KnowledgeBaseLister lists knowledge bases for fan-out jobs.
type KnowledgeBaseLister interface {
	ListByOrg(ctx context.Context, orgID string) ([]*domain.KnowledgeBase, error)
}

// DocumentIndexLister reports where a document is currently indexed.
type DocumentIndexLister interface {
	ListByDocument(ctx context.Context, documentID string) ([]*domain.DocumentIndexEntry, error)
}

// IndexWorker processes index jobs. A job with a knowledge base id targets
// that one base; an index job without one fans the document out across every
// base in its organization, indexing where tags match and removing where they
// no longer do.
type IndexWorker struct {
	repo     IndexJobRepository
	pipeline IndexingService
	kbs      KnowledgeBaseLister
	docs     service.DocumentStore
	entries  DocumentIndexLister
}

// NewIndexWorker creates a new IndexWorker instance
func NewIndexWorker(repo IndexJobRepository, pipeline IndexingService, kbs KnowledgeBaseLister, docs service.DocumentStore, entries DocumentIndexLister) *IndexWorker {
	return &IndexWorker{
		repo:     repo,
		pipeline: pipeline,
		kbs:      kbs,
		docs:     docs,
		entries:  entries,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IndexWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, claimBatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	log.Printf("index worker: processing %d pending jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("index worker: error processing job %s: %v", job.ID, err)
		}
	}
	return nil
}

func (w *IndexWorker) processJob(ctx context.Context, job *domain.IndexJob) error {
	var err error
	switch {
	case job.Action == domain.IndexJobActionRemove:
		_, err = w.pipeline.RemoveDocument(ctx, job.KBID, job.DocumentID)
	case job.KBID != "":
		_, err = w.pipeline.IndexDocument(ctx, job.KBID, job.DocumentID)
	default:
		err = w.fanOut(ctx, job.DocumentID)
	}

	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.IndexJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}
	return nil
}

// fanOut syncs one document against every knowledge base in its organization.
// Knowledge bases in the error state are left alone.
func (w *IndexWorker) fanOut(ctx context.Context, documentID string) error {
	doc, err := w.docs.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	kbs, err := w.kbs.ListByOrg(ctx, doc.OrgID)
	if err != nil {
		return err
	}

	entries, err := w.entries.ListByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	indexedIn := make(map[string]bool, len(entries))
	for _, entry := range entries {
		indexedIn[entry.KBID] = true
	}

	var firstErr error
	for _, kb := range kbs {
		if kb.Status == domain.KnowledgeBaseStatusError {
			continue
		}
		switch {
		case kb.MatchesTags(doc.TagIDs):
			if _, err := w.pipeline.IndexDocument(ctx, kb.ID, documentID); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("kb %s: %w", kb.ID, err)
			}
		case indexedIn[kb.ID]:
			if _, err := w.pipeline.RemoveDocument(ctx, kb.ID, documentID); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("kb %s: %w", kb.ID, err)
			}
		}
	}
	return firstErr
}

// handleJobFailure retries transient failures up to MaxRetries and marks the
// job failed after that. Permanent provider errors skip the retry budget
// entirely; retrying a bad API key cannot help.
func (w *IndexWorker) handleJobFailure(ctx context.Context, job *domain.IndexJob, jobErr error) error {
	log.Printf("index worker: job %s failed: %v", job.ID, jobErr)

	if domain.IsPermanentProviderError(jobErr) {
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.IndexJobStatusFailed, jobErr.Error()); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		log.Printf("index worker: job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.IndexJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.Requeue(ctx, job.ID, errMsg); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}
