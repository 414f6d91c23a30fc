package domain

import (
	"time"
)

// IndexJobAction is the operation requested by an index job.
type IndexJobAction string

const (
	IndexJobActionIndex  IndexJobAction = "index"
	IndexJobActionRemove IndexJobAction = "remove"
)

// IndexJobStatus represents the status of an index job
type IndexJobStatus string

const (
	IndexJobStatusPending    IndexJobStatus = "pending"
	IndexJobStatusProcessing IndexJobStatus = "processing"
	IndexJobStatusCompleted  IndexJobStatus = "completed"
	IndexJobStatusFailed     IndexJobStatus = "failed"
)

// IndexJob is a durable queue entry for indexing or removing a document. An
// empty KBID on an index job means "match the document against every
// knowledge base whose tag set intersects its tags, and remove it from any it
// no longer matches". Jobs are idempotent to reordering and duplicate
// delivery because each run fully replaces the prior generation.
type IndexJob struct {
	ID          string
	DocumentID  string
	KBID        string // optional
	Action      IndexJobAction
	Status      IndexJobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// NewIndexJob creates a new pending IndexJob instance
func NewIndexJob(id, documentID, kbID string, action IndexJobAction) *IndexJob {
	return &IndexJob{
		ID:         id,
		DocumentID: documentID,
		KBID:       kbID,
		Action:     action,
		Status:     IndexJobStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// ValidateIndexJob validates an IndexJob instance
func ValidateIndexJob(j *IndexJob) error {
	if j == nil {
		return NewDomainError(ErrCodeValidation, "index job cannot be nil")
	}
	if j.ID == "" || j.DocumentID == "" {
		return ErrMissingRequiredField
	}
	if !isValidIndexJobAction(j.Action) {
		return ErrInvalidIndexJobAction
	}
	if j.Action == IndexJobActionRemove && j.KBID == "" {
		return NewDomainError(ErrCodeValidation, "remove jobs require a knowledge base id")
	}
	if !isValidIndexJobStatus(j.Status) {
		return ErrInvalidIndexJobStatus
	}
	if j.Retries < 0 {
		return NewDomainError(ErrCodeValidation, "index job retries cannot be negative")
	}
	return nil
}

func isValidIndexJobAction(a IndexJobAction) bool {
	switch a {
	case IndexJobActionIndex, IndexJobActionRemove:
		return true
	}
	return false
}

func isValidIndexJobStatus(s IndexJobStatus) bool {
	switch s {
	case IndexJobStatusPending, IndexJobStatusProcessing,
		IndexJobStatusCompleted, IndexJobStatusFailed:
		return true
	}
	return false
}
