package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/vectis/internal/domain"
)

// DocumentRepository reads document metadata and extracted text. Upload and
// text extraction are owned by the document management side; this service only
// consumes their output.
type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	err := r.db.QueryRow(ctx,
		`SELECT id, org_id, name, tag_ids, uploaded_at FROM documents WHERE id = $1`,
		id,
	).Scan(&doc.ID, &doc.OrgID, &doc.Name, &doc.TagIDs, &doc.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// GetExtractedText returns the empty string when extraction has not produced
// text for the document yet.
func (r *DocumentRepository) GetExtractedText(ctx context.Context, id string) (string, error) {
	var text *string
	err := r.db.QueryRow(ctx,
		`SELECT extracted_text FROM documents WHERE id = $1`, id,
	).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrDocumentNotFound
		}
		return "", err
	}
	if text == nil {
		return "", nil
	}
	return *text, nil
}

// ListByAnyTag pages through documents whose tag set intersects tagIDs,
// ordered by id for stable keyset pagination.
func (r *DocumentRepository) ListByAnyTag(ctx context.Context, tagIDs []string, afterID string, limit int) ([]*domain.Document, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, org_id, name, tag_ids, uploaded_at
		 FROM documents
		 WHERE tag_ids && $1 AND id > $2
		 ORDER BY id ASC
		 LIMIT $3`,
		tagIDs, afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var doc domain.Document
		if err := rows.Scan(&doc.ID, &doc.OrgID, &doc.Name, &doc.TagIDs, &doc.UploadedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// Upsert stores a document read model. Used by ingestion sync and tests.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *domain.Document, extractedText string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (id, org_id, name, tag_ids, extracted_text, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			tag_ids = EXCLUDED.tag_ids,
			extracted_text = EXCLUDED.extracted_text,
			uploaded_at = EXCLUDED.uploaded_at`,
		doc.ID, doc.OrgID, doc.Name, doc.TagIDs, nullableString(extractedText), doc.UploadedAt,
	)
	return err
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}
