package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/vectis/internal/domain"
)

// DocumentIndexRepository persists document index entries, the authoritative
// record of which documents are indexed in which knowledge bases.
type DocumentIndexRepository struct {
	db dbtx
}

func NewDocumentIndexRepository(pool *pgxpool.Pool) *DocumentIndexRepository {
	return &DocumentIndexRepository{db: pool}
}

func NewDocumentIndexRepositoryWithTx(tx pgx.Tx) *DocumentIndexRepository {
	return &DocumentIndexRepository{db: tx}
}

func (r *DocumentIndexRepository) Upsert(ctx context.Context, entry *domain.DocumentIndexEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO document_index_entries (kb_id, document_id, chunk_count, indexed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kb_id, document_id) DO UPDATE SET
			chunk_count = EXCLUDED.chunk_count,
			indexed_at = EXCLUDED.indexed_at`,
		entry.KBID, entry.DocumentID, entry.ChunkCount, entry.IndexedAt,
	)
	return err
}

func (r *DocumentIndexRepository) Get(ctx context.Context, kbID, documentID string) (*domain.DocumentIndexEntry, error) {
	var entry domain.DocumentIndexEntry
	err := r.db.QueryRow(ctx,
		`SELECT kb_id, document_id, chunk_count, indexed_at
		 FROM document_index_entries WHERE kb_id = $1 AND document_id = $2`,
		kbID, documentID,
	).Scan(&entry.KBID, &entry.DocumentID, &entry.ChunkCount, &entry.IndexedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotIndexed
		}
		return nil, err
	}
	return &entry, nil
}

// Delete is idempotent; deleting a missing entry is not an error.
func (r *DocumentIndexRepository) Delete(ctx context.Context, kbID, documentID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM document_index_entries WHERE kb_id = $1 AND document_id = $2`,
		kbID, documentID,
	)
	return err
}

func (r *DocumentIndexRepository) ListByKB(ctx context.Context, kbID, afterDocumentID string, limit int) ([]*domain.DocumentIndexEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(ctx,
		`SELECT kb_id, document_id, chunk_count, indexed_at
		 FROM document_index_entries
		 WHERE kb_id = $1 AND document_id > $2
		 ORDER BY document_id ASC
		 LIMIT $3`,
		kbID, afterDocumentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIndexEntryRows(rows)
}

func (r *DocumentIndexRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.DocumentIndexEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT kb_id, document_id, chunk_count, indexed_at
		 FROM document_index_entries WHERE document_id = $1 ORDER BY kb_id ASC`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIndexEntryRows(rows)
}

// Aggregate recomputes counts from the entries themselves so knowledge base
// counters can only ever be set, never drift by incremental updates.
func (r *DocumentIndexRepository) Aggregate(ctx context.Context, kbID string) (int64, int64, error) {
	var documentCount, chunkCount int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(chunk_count), 0)
		 FROM document_index_entries WHERE kb_id = $1`,
		kbID,
	).Scan(&documentCount, &chunkCount)
	if err != nil {
		return 0, 0, err
	}
	return documentCount, chunkCount, nil
}

func (r *DocumentIndexRepository) DeleteByKB(ctx context.Context, kbID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_index_entries WHERE kb_id = $1`, kbID)
	return err
}

func scanIndexEntryRows(rows pgx.Rows) ([]*domain.DocumentIndexEntry, error) {
	var entries []*domain.DocumentIndexEntry
	for rows.Next() {
		var entry domain.DocumentIndexEntry
		if err := rows.Scan(&entry.KBID, &entry.DocumentID, &entry.ChunkCount, &entry.IndexedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
