package domain

import (
	"time"
)

// ChunkerKind selects the chunking algorithm for a knowledge base.
type ChunkerKind string

const (
	ChunkerKindTokenWindow ChunkerKind = "token_window"
	ChunkerKindSentence    ChunkerKind = "sentence"
	ChunkerKindRecursive   ChunkerKind = "recursive"
)

// KnowledgeBaseStatus represents the lifecycle status of a knowledge base
type KnowledgeBaseStatus string

const (
	KnowledgeBaseStatusIndexing KnowledgeBaseStatus = "indexing"
	KnowledgeBaseStatusActive   KnowledgeBaseStatus = "active"
	KnowledgeBaseStatusError    KnowledgeBaseStatus = "error"
)

// KnowledgeBase is a per-organization collection of indexed document chunks
// sharing one embedding model and one vector collection. Membership is driven
// by tag policy: a document belongs when its tags intersect TagIDs.
type KnowledgeBase struct {
	ID                string
	OrgID             string
	Name              string
	TagIDs            []string
	ChunkerKind       ChunkerKind
	ChunkSize         int
	ChunkOverlap      int
	EmbeddingModel    string
	EmbeddingDim      int // immutable once set
	Status            KnowledgeBaseStatus
	StatusMessage     string
	DocumentCount     int64
	ChunkCount        int64
	CoalesceNeighbors int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CollectionName returns the deterministic vector collection name for this
// knowledge base.
func (kb *KnowledgeBase) CollectionName() string {
	return "kb_" + kb.ID
}

// MatchesTags reports whether a document with the given tags belongs to this
// knowledge base under its tag policy.
func (kb *KnowledgeBase) MatchesTags(tagIDs []string) bool {
	if len(kb.TagIDs) == 0 || len(tagIDs) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(kb.TagIDs))
	for _, id := range kb.TagIDs {
		set[id] = struct{}{}
	}
	for _, id := range tagIDs {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// ValidateKnowledgeBase validates a KnowledgeBase instance
func ValidateKnowledgeBase(kb *KnowledgeBase) error {
	if kb == nil {
		return NewDomainErrorWithCause(ErrCodeValidation, "knowledge base cannot be nil", nil)
	}
	if kb.ID == "" {
		return ErrMissingRequiredField
	}
	if kb.OrgID == "" {
		return ErrMissingRequiredField
	}
	if kb.Name == "" {
		return ErrMissingRequiredField
	}
	if kb.EmbeddingModel == "" {
		return ErrMissingRequiredField
	}
	if !isValidChunkerKind(kb.ChunkerKind) {
		return ErrInvalidChunkerKind
	}
	if kb.ChunkSize <= 0 || kb.ChunkOverlap < 0 || kb.ChunkOverlap >= kb.ChunkSize {
		return ErrInvalidChunkOverlap
	}
	if kb.EmbeddingDim <= 0 {
		return ErrInvalidEmbeddingDim
	}
	if kb.CoalesceNeighbors < 0 {
		return NewDomainError(ErrCodeValidation, "coalesce neighbors cannot be negative")
	}
	if !isValidKnowledgeBaseStatus(kb.Status) {
		return NewDomainError(ErrCodeValidation, "invalid knowledge base status")
	}
	return nil
}

func isValidChunkerKind(k ChunkerKind) bool {
	switch k {
	case ChunkerKindTokenWindow, ChunkerKindSentence, ChunkerKindRecursive:
		return true
	}
	return false
}

func isValidKnowledgeBaseStatus(s KnowledgeBaseStatus) bool {
	switch s {
	case KnowledgeBaseStatusIndexing, KnowledgeBaseStatusActive, KnowledgeBaseStatusError:
		return true
	}
	return false
}
