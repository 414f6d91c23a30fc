package domain

import "time"

// Document is the read model exposed by the external document collaborator.
// Upload, storage and OCR live outside this service.
type Document struct {
	ID         string
	OrgID      string
	Name       string
	TagIDs     []string
	UploadedAt time.Time
}

// DocumentIndexEntry records that a document is currently indexed in a
// knowledge base. At most one entry exists per (kb_id, document_id).
type DocumentIndexEntry struct {
	KBID       string
	DocumentID string
	ChunkCount int
	IndexedAt  time.Time
}

// Chunk is a bounded span of a document's extracted text with a 0-based index
// within that document.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
}

// MetadataSnapshot captures document metadata at index time. It may go stale
// until the next re-index.
type MetadataSnapshot struct {
	Name       string    `json:"name"`
	TagIDs     []string  `json:"tag_ids"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// VectorRecord is one embedded chunk stored in a knowledge base's vector
// collection. All records for a (kb, document) pair belong to exactly one
// generation; the indexing pipeline replaces generations atomically.
type VectorRecord struct {
	ID         string
	KBID       string
	OrgID      string
	DocumentID string
	ChunkIndex int
	ChunkHash  string
	ChunkText  string
	Embedding  []float32
	TokenCount int
	Metadata   MetadataSnapshot
	IndexedAt  time.Time
}
