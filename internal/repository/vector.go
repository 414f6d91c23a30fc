package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/service"
)

// VectorRepository stores embedded chunks in one shared table partitioned
// logically by knowledge base. Each knowledge base gets its own partial HNSW
// index over the embedding cast to its configured dimensionality, which is
// what allows differently-dimensioned knowledge bases to coexist.
type VectorRepository struct {
	db dbtx
}

func NewVectorRepository(pool *pgxpool.Pool) *VectorRepository {
	return &VectorRepository{db: pool}
}

func NewVectorRepositoryWithTx(tx pgx.Tx) *VectorRepository {
	return &VectorRepository{db: tx}
}

func collectionIndexName(kb *domain.KnowledgeBase) string {
	return "idx_" + strings.ReplaceAll(kb.CollectionName(), "-", "_") + "_embedding"
}

// EnsureCollection registers the knowledge base's collection and builds its
// similarity index. The collection stays not-ready until the index build
// finishes, and Search reports ErrIndexNotReady for that window.
func (r *VectorRepository) EnsureCollection(ctx context.Context, kb *domain.KnowledgeBase) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO vector_collections (kb_id, collection_name, embedding_dim, ready, created_at)
		 VALUES ($1, $2, $3, FALSE, $4)
		 ON CONFLICT (kb_id) DO NOTHING`,
		kb.ID, kb.CollectionName(), kb.EmbeddingDim, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to register vector collection: %w", err)
	}

	// Dimensionality is fixed at registration; a re-ensure with a drifted
	// dim must not silently rebuild the index over mixed vectors.
	var registeredDim int
	if err := r.db.QueryRow(ctx,
		`SELECT embedding_dim FROM vector_collections WHERE kb_id = $1`, kb.ID,
	).Scan(&registeredDim); err != nil {
		return fmt.Errorf("failed to read vector collection registration: %w", err)
	}
	if registeredDim != kb.EmbeddingDim {
		return domain.ErrDimensionImmutable
	}

	indexSQL := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON vector_records
		 USING hnsw ((embedding::vector(%d)) vector_cosine_ops)
		 WHERE kb_id = %s`,
		pgx.Identifier{collectionIndexName(kb)}.Sanitize(),
		kb.EmbeddingDim,
		quoteLiteral(kb.ID),
	)
	if _, err := r.db.Exec(ctx, indexSQL); err != nil {
		return fmt.Errorf("failed to build vector index: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`UPDATE vector_collections SET ready = TRUE WHERE kb_id = $1`, kb.ID)
	return err
}

func (r *VectorRepository) DropCollection(ctx context.Context, kb *domain.KnowledgeBase) error {
	dropSQL := fmt.Sprintf(`DROP INDEX IF EXISTS %s`,
		pgx.Identifier{collectionIndexName(kb)}.Sanitize())
	if _, err := r.db.Exec(ctx, dropSQL); err != nil {
		return fmt.Errorf("failed to drop vector index: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM vector_records WHERE kb_id = $1`, kb.ID); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM vector_collections WHERE kb_id = $1`, kb.ID)
	return err
}

func (r *VectorRepository) InsertRecords(ctx context.Context, records []*domain.VectorRecord) error {
	for _, rec := range records {
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata snapshot: %w", err)
		}
		_, err = r.db.Exec(ctx,
			`INSERT INTO vector_records
				(id, kb_id, org_id, document_id, chunk_index, chunk_hash, chunk_text,
				 embedding, token_count, metadata, indexed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			rec.ID, rec.KBID, rec.OrgID, rec.DocumentID, rec.ChunkIndex, rec.ChunkHash, rec.ChunkText,
			pgvector.NewVector(rec.Embedding), rec.TokenCount, metadata, rec.IndexedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *VectorRepository) DeleteByDocument(ctx context.Context, kbID, documentID string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM vector_records WHERE kb_id = $1 AND document_id = $2`,
		kbID, documentID,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func (r *VectorRepository) CountByDocument(ctx context.Context, kbID, documentID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM vector_records WHERE kb_id = $1 AND document_id = $2`,
		kbID, documentID,
	).Scan(&count)
	return count, err
}

func (r *VectorRepository) ListDocumentIDs(ctx context.Context, kbID, afterDocumentID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT document_id FROM vector_records
		 WHERE kb_id = $1 AND document_id > $2
		 ORDER BY document_id ASC
		 LIMIT $3`,
		kbID, afterDocumentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Search runs cosine similarity search scoped to one knowledge base. Filters
// arrive pre-validated through the service allow-list; nothing else reaches
// the SQL. Scores are 1 - cosine distance, higher is better.
func (r *VectorRepository) Search(ctx context.Context, kb *domain.KnowledgeBase, embedding []float32, filters service.SearchFilters, limit, skip int) ([]*service.VectorHit, int64, error) {
	var ready bool
	err := r.db.QueryRow(ctx,
		`SELECT ready FROM vector_collections WHERE kb_id = $1`, kb.ID,
	).Scan(&ready)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, domain.ErrIndexNotReady
		}
		return nil, 0, err
	}
	if !ready {
		return nil, 0, domain.ErrIndexNotReady
	}

	conds := []string{"kb_id = $1"}
	args := []any{kb.ID}
	appendCond := func(format string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if len(filters.DocumentIDs) > 0 {
		appendCond("document_id = ANY($%d)", filters.DocumentIDs)
	}
	if len(filters.TagIDs) > 0 {
		appendCond("metadata->'tag_ids' ?| $%d", filters.TagIDs)
	}
	if filters.NameContains != "" {
		appendCond("metadata->>'name' ILIKE $%d", "%"+filters.NameContains+"%")
	}
	if filters.UploadedAfter != nil {
		appendCond("(metadata->>'uploaded_at')::timestamptz >= $%d", *filters.UploadedAfter)
	}
	if filters.UploadedBefore != nil {
		appendCond("(metadata->>'uploaded_at')::timestamptz <= $%d", *filters.UploadedBefore)
	}

	where := strings.Join(conds, " AND ")

	var total int64
	countSQL := `SELECT COUNT(*) FROM vector_records WHERE ` + where
	if err := r.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, pgvector.NewVector(embedding))
	embeddingArg := len(args)
	args = append(args, limit, skip)

	searchSQL := fmt.Sprintf(
		`SELECT id, kb_id, org_id, document_id, chunk_index, chunk_hash, chunk_text,
			token_count, metadata, indexed_at,
			1 - ((embedding::vector(%d)) <=> $%d::vector(%d)) AS score
		 FROM vector_records
		 WHERE %s
		 ORDER BY (embedding::vector(%d)) <=> $%d::vector(%d)
		 LIMIT $%d OFFSET $%d`,
		kb.EmbeddingDim, embeddingArg, kb.EmbeddingDim,
		where,
		kb.EmbeddingDim, embeddingArg, kb.EmbeddingDim,
		embeddingArg+1, embeddingArg+2,
	)

	rows, err := r.db.Query(ctx, searchSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var hits []*service.VectorHit
	for rows.Next() {
		var rec domain.VectorRecord
		var metadata []byte
		var score float64
		if err := rows.Scan(
			&rec.ID, &rec.KBID, &rec.OrgID, &rec.DocumentID, &rec.ChunkIndex, &rec.ChunkHash, &rec.ChunkText,
			&rec.TokenCount, &metadata, &rec.IndexedAt, &score,
		); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal metadata snapshot: %w", err)
		}
		hits = append(hits, &service.VectorHit{Record: &rec, Score: score})
	}
	return hits, total, rows.Err()
}

func (r *VectorRepository) Neighbors(ctx context.Context, kbID, documentID string, center, n int) ([]*domain.VectorRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, kb_id, org_id, document_id, chunk_index, chunk_hash, chunk_text,
			token_count, metadata, indexed_at
		 FROM vector_records
		 WHERE kb_id = $1 AND document_id = $2 AND chunk_index BETWEEN $3 AND $4
		 ORDER BY chunk_index ASC`,
		kbID, documentID, center-n, center+n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.VectorRecord
	for rows.Next() {
		var rec domain.VectorRecord
		var metadata []byte
		if err := rows.Scan(
			&rec.ID, &rec.KBID, &rec.OrgID, &rec.DocumentID, &rec.ChunkIndex, &rec.ChunkHash, &rec.ChunkText,
			&rec.TokenCount, &metadata, &rec.IndexedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata snapshot: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// quoteLiteral escapes a string for direct inclusion in DDL, which cannot take
// bind parameters.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
