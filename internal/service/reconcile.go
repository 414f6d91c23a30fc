package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/telemetry"
)

const (
	defaultLeaseTTL          = 10 * time.Minute
	defaultReconcilePageSize = 200
)

// IssueType classifies a drift finding.
type IssueType string

const (
	// IssueMissing: the document's tags intersect the KB's tag set but it
	// is not indexed.
	IssueMissing IssueType = "missing"
	// IssueStale: the document is indexed but its tags no longer intersect
	// (or the document is gone).
	IssueStale IssueType = "stale"
	// IssueOrphaned: vector records exist without a document index entry.
	IssueOrphaned IssueType = "orphaned"
)

// ReconcileIssue is one drift finding.
type ReconcileIssue struct {
	Type       IssueType `json:"type"`
	KBID       string    `json:"kb_id"`
	DocumentID string    `json:"document_id"`
}

// ReconcileInput selects what to reconcile. At least one of KBID/DocumentID
// must be set.
type ReconcileInput struct {
	KBID       string
	DocumentID string
	DryRun     bool
}

// ReconcileReport summarizes one reconcile run.
type ReconcileReport struct {
	KBID         string           `json:"kb_id,omitempty"`
	DocumentID   string           `json:"document_id,omitempty"`
	DryRun       bool             `json:"dry_run"`
	Issues       []ReconcileIssue `json:"issues"`
	Repaired     int              `json:"repaired"`
	LeaseSkipped bool             `json:"lease_skipped,omitempty"`
	Errors       []string         `json:"errors,omitempty"`
}

// DocumentRemover runs the transactional removal discipline for one document.
// Implemented by IndexingPipeline.
type DocumentRemover interface {
	RemoveDocument(ctx context.Context, kbID, documentID string) (bool, error)
}

// ReconcilerConfig controls lease TTL and sweep paging.
type ReconcilerConfig struct {
	LeaseTTL time.Duration
	PageSize int
}

// DefaultReconcilerConfig provides sane defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		LeaseTTL: defaultLeaseTTL,
		PageSize: defaultReconcilePageSize,
	}
}

// Reconciler detects and repairs drift between knowledge base tag policy and
// actual indexed state. Whole-KB sweeps hold a TTL lease so at most one
// worker sweeps a knowledge base at a time, fleet-wide; a crashed holder is
// taken over once the TTL expires.
type Reconciler struct {
	kbRepo   KnowledgeBaseRepo
	docs     DocumentStore
	index    DocumentIndexRepo
	vectors  VectorRepo
	remover  DocumentRemover
	queue    IndexJobQueue
	locks    LockRepo
	uuidGen  UUIDGenerator
	workerID string
	cfg      ReconcilerConfig
}

// NewReconciler creates a new Reconciler instance
func NewReconciler(
	kbRepo KnowledgeBaseRepo,
	docs DocumentStore,
	index DocumentIndexRepo,
	vectors VectorRepo,
	remover DocumentRemover,
	queue IndexJobQueue,
	locks LockRepo,
) *Reconciler {
	return &Reconciler{
		kbRepo:   kbRepo,
		docs:     docs,
		index:    index,
		vectors:  vectors,
		remover:  remover,
		queue:    queue,
		locks:    locks,
		uuidGen:  &DefaultUUIDGenerator{},
		workerID: uuid.NewString(),
		cfg:      DefaultReconcilerConfig(),
	}
}

// WithConfig overrides the reconciler configuration.
func (r *Reconciler) WithConfig(cfg ReconcilerConfig) *Reconciler {
	if cfg.LeaseTTL > 0 {
		r.cfg.LeaseTTL = cfg.LeaseTTL
	}
	if cfg.PageSize > 0 {
		r.cfg.PageSize = cfg.PageSize
	}
	return r
}

// WithWorkerID overrides the lease holder identity (for testing).
func (r *Reconciler) WithWorkerID(id string) *Reconciler {
	r.workerID = id
	return r
}

// Reconcile runs one reconciliation pass at one of three granularities:
// whole-KB sweep, single document across matching KBs, or single document in
// one KB. Per-document failures are collected, not fatal, so one bad
// document cannot abort a sweep.
func (r *Reconciler) Reconcile(ctx context.Context, input ReconcileInput) (*ReconcileReport, error) {
	if input.KBID == "" && input.DocumentID == "" {
		return nil, domain.ErrInvalidReconcileTarget
	}

	ctx, span := telemetry.StartSpan(ctx, "Reconciler.Reconcile", telemetry.SpanAttributes{
		KBID:       input.KBID,
		DocumentID: input.DocumentID,
	})
	defer span.End()

	report := &ReconcileReport{
		KBID:       input.KBID,
		DocumentID: input.DocumentID,
		DryRun:     input.DryRun,
		Issues:     []ReconcileIssue{},
	}

	switch {
	case input.KBID != "" && input.DocumentID != "":
		kb, err := r.kbRepo.GetByID(ctx, input.KBID)
		if err != nil {
			return nil, err
		}
		r.reconcileDocument(ctx, kb, input.DocumentID, input.DryRun, report)
	case input.KBID != "":
		kb, err := r.kbRepo.GetByID(ctx, input.KBID)
		if err != nil {
			return nil, err
		}
		if err := r.sweepKB(ctx, kb, input.DryRun, report); err != nil {
			span.SetError(err)
			return nil, err
		}
	default:
		doc, err := r.docs.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, err
		}
		kbs, err := r.kbRepo.ListByOrg(ctx, doc.OrgID)
		if err != nil {
			return nil, err
		}
		for _, kb := range kbs {
			r.reconcileDocument(ctx, kb, input.DocumentID, input.DryRun, report)
		}
	}

	return report, nil
}

// sweepKB pages through matching documents, index entries and stored vectors
// in bounded batches under the per-KB lease.
func (r *Reconciler) sweepKB(ctx context.Context, kb *domain.KnowledgeBase, dryRun bool, report *ReconcileReport) error {
	acquired, err := r.locks.Acquire(ctx, kb.ID, r.workerID, r.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire reconciliation lease: %w", err)
	}
	if !acquired {
		report.LeaseSkipped = true
		log.Printf("reconcile: sweep of kb %s skipped, lease held elsewhere", kb.ID)
		return nil
	}
	defer func() {
		if err := r.locks.Release(context.WithoutCancel(ctx), kb.ID, r.workerID); err != nil {
			log.Printf("reconcile: failed to release lease for kb %s: %v", kb.ID, err)
		}
	}()

	// Missing: documents whose tags intersect the KB but have no entry.
	afterID := ""
	for {
		docs, err := r.docs.ListByAnyTag(ctx, kb.TagIDs, afterID, r.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("failed to list documents by tags: %w", err)
		}
		for _, doc := range docs {
			if _, err := r.index.Get(ctx, kb.ID, doc.ID); err == nil {
				continue
			} else if !errors.Is(err, domain.ErrDocumentNotIndexed) {
				report.Errors = append(report.Errors, fmt.Sprintf("document %s: %v", doc.ID, err))
				continue
			}
			r.recordIssue(ctx, report, ReconcileIssue{Type: IssueMissing, KBID: kb.ID, DocumentID: doc.ID}, dryRun)
		}
		if len(docs) < r.cfg.PageSize {
			break
		}
		afterID = docs[len(docs)-1].ID
	}

	// Stale: entries whose document no longer matches the tag policy.
	afterID = ""
	for {
		entries, err := r.index.ListByKB(ctx, kb.ID, afterID, r.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("failed to list index entries: %w", err)
		}
		for _, entry := range entries {
			doc, err := r.docs.GetDocument(ctx, entry.DocumentID)
			if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
				report.Errors = append(report.Errors, fmt.Sprintf("document %s: %v", entry.DocumentID, err))
				continue
			}
			if doc != nil && kb.MatchesTags(doc.TagIDs) {
				continue
			}
			r.recordIssue(ctx, report, ReconcileIssue{Type: IssueStale, KBID: kb.ID, DocumentID: entry.DocumentID}, dryRun)
		}
		if len(entries) < r.cfg.PageSize {
			break
		}
		afterID = entries[len(entries)-1].DocumentID
	}

	// Orphaned: vector records with no index entry.
	afterID = ""
	for {
		docIDs, err := r.vectors.ListDocumentIDs(ctx, kb.ID, afterID, r.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("failed to list vector document ids: %w", err)
		}
		for _, docID := range docIDs {
			if _, err := r.index.Get(ctx, kb.ID, docID); err == nil {
				continue
			} else if !errors.Is(err, domain.ErrDocumentNotIndexed) {
				report.Errors = append(report.Errors, fmt.Sprintf("document %s: %v", docID, err))
				continue
			}
			r.recordIssue(ctx, report, ReconcileIssue{Type: IssueOrphaned, KBID: kb.ID, DocumentID: docID}, dryRun)
		}
		if len(docIDs) < r.cfg.PageSize {
			break
		}
		afterID = docIDs[len(docIDs)-1]
	}

	return nil
}

// reconcileDocument checks a single document against a single knowledge base.
func (r *Reconciler) reconcileDocument(ctx context.Context, kb *domain.KnowledgeBase, documentID string, dryRun bool, report *ReconcileReport) {
	doc, err := r.docs.GetDocument(ctx, documentID)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		report.Errors = append(report.Errors, fmt.Sprintf("document %s: %v", documentID, err))
		return
	}

	indexed := true
	if _, err := r.index.Get(ctx, kb.ID, documentID); err != nil {
		if !errors.Is(err, domain.ErrDocumentNotIndexed) {
			report.Errors = append(report.Errors, fmt.Sprintf("document %s: %v", documentID, err))
			return
		}
		indexed = false
	}

	matches := doc != nil && kb.MatchesTags(doc.TagIDs)

	switch {
	case matches && !indexed:
		r.recordIssue(ctx, report, ReconcileIssue{Type: IssueMissing, KBID: kb.ID, DocumentID: documentID}, dryRun)
	case !matches && indexed:
		r.recordIssue(ctx, report, ReconcileIssue{Type: IssueStale, KBID: kb.ID, DocumentID: documentID}, dryRun)
	case !indexed:
		count, err := r.vectors.CountByDocument(ctx, kb.ID, documentID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("document %s: %v", documentID, err))
			return
		}
		if count > 0 {
			r.recordIssue(ctx, report, ReconcileIssue{Type: IssueOrphaned, KBID: kb.ID, DocumentID: documentID}, dryRun)
		}
	}
}

// recordIssue reports an issue and, unless dry-running, repairs it: missing
// documents are enqueued for indexing (only when extractable text exists),
// stale and orphaned state goes through the transactional removal.
func (r *Reconciler) recordIssue(ctx context.Context, report *ReconcileReport, issue ReconcileIssue, dryRun bool) {
	report.Issues = append(report.Issues, issue)
	if dryRun {
		return
	}

	switch issue.Type {
	case IssueMissing:
		text, err := r.docs.GetExtractedText(ctx, issue.DocumentID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("document %s: %v", issue.DocumentID, err))
			return
		}
		if strings.TrimSpace(text) == "" {
			return
		}
		job := domain.NewIndexJob(r.uuidGen.NewString(), issue.DocumentID, issue.KBID, domain.IndexJobActionIndex)
		if err := r.queue.Enqueue(ctx, job); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("document %s: %v", issue.DocumentID, err))
			return
		}
	case IssueStale, IssueOrphaned:
		if _, err := r.remover.RemoveDocument(ctx, issue.KBID, issue.DocumentID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("document %s: %v", issue.DocumentID, err))
			return
		}
	}
	report.Repaired++
}
