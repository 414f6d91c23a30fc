package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/vectis/internal/domain"
)

type KnowledgeBaseRepository struct {
	db dbtx
}

func NewKnowledgeBaseRepository(pool *pgxpool.Pool) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: pool}
}

func NewKnowledgeBaseRepositoryWithTx(tx pgx.Tx) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: tx}
}

const kbColumns = `id, org_id, name, tag_ids, chunker_kind, chunk_size, chunk_overlap,
	embedding_model, embedding_dim, status, status_message, document_count, chunk_count,
	coalesce_neighbors, created_at, updated_at`

func (r *KnowledgeBaseRepository) Create(ctx context.Context, kb *domain.KnowledgeBase) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_bases
			(id, org_id, name, tag_ids, chunker_kind, chunk_size, chunk_overlap,
			 embedding_model, embedding_dim, status, status_message,
			 coalesce_neighbors, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		kb.ID, kb.OrgID, kb.Name, kb.TagIDs, kb.ChunkerKind, kb.ChunkSize, kb.ChunkOverlap,
		kb.EmbeddingModel, kb.EmbeddingDim, kb.Status, nullableString(kb.StatusMessage),
		kb.CoalesceNeighbors, kb.CreatedAt, kb.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrKnowledgeBaseAlreadyExists
	}
	return err
}

func (r *KnowledgeBaseRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases WHERE id = $1`, id)
	kb, err := scanKnowledgeBase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKnowledgeBaseNotFound
		}
		return nil, err
	}
	return kb, nil
}

func (r *KnowledgeBaseRepository) ListByOrg(ctx context.Context, orgID string) ([]*domain.KnowledgeBase, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+kbColumns+` FROM knowledge_bases WHERE org_id = $1 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKnowledgeBaseRows(rows)
}

func (r *KnowledgeBaseRepository) List(ctx context.Context) ([]*domain.KnowledgeBase, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ` + kbColumns + ` FROM knowledge_bases ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKnowledgeBaseRows(rows)
}

func (r *KnowledgeBaseRepository) UpdateStatus(ctx context.Context, id string, status domain.KnowledgeBaseStatus, message string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_bases SET status = $1, status_message = $2, updated_at = $3 WHERE id = $4`,
		status, nullableString(message), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeBaseNotFound
	}
	return nil
}

func (r *KnowledgeBaseRepository) UpdateCounts(ctx context.Context, id string, documentCount, chunkCount int64) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_bases SET document_count = $1, chunk_count = $2, updated_at = $3 WHERE id = $4`,
		documentCount, chunkCount, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeBaseNotFound
	}
	return nil
}

func (r *KnowledgeBaseRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeBaseNotFound
	}
	return nil
}

func scanKnowledgeBase(row pgx.Row) (*domain.KnowledgeBase, error) {
	var kb domain.KnowledgeBase
	var statusMessage *string
	err := row.Scan(
		&kb.ID, &kb.OrgID, &kb.Name, &kb.TagIDs, &kb.ChunkerKind, &kb.ChunkSize, &kb.ChunkOverlap,
		&kb.EmbeddingModel, &kb.EmbeddingDim, &kb.Status, &statusMessage, &kb.DocumentCount, &kb.ChunkCount,
		&kb.CoalesceNeighbors, &kb.CreatedAt, &kb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if statusMessage != nil {
		kb.StatusMessage = *statusMessage
	}
	return &kb, nil
}

func scanKnowledgeBaseRows(rows pgx.Rows) ([]*domain.KnowledgeBase, error) {
	var kbs []*domain.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}
