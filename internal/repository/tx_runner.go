package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/vectis/internal/service"
)

// TxRunner provides transactional repositories using a pgx pool. The atomic
// generation swap in the indexing pipeline runs entirely through one of these
// transactions.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repos := &txRepos{tx: tx}
	if err := fn(repos); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

type txRepos struct {
	tx pgx.Tx
}

func (r *txRepos) KnowledgeBases() service.KnowledgeBaseRepo {
	return NewKnowledgeBaseRepositoryWithTx(r.tx)
}

func (r *txRepos) DocumentIndex() service.DocumentIndexRepo {
	return NewDocumentIndexRepositoryWithTx(r.tx)
}

func (r *txRepos) Vectors() service.VectorRepo {
	return NewVectorRepositoryWithTx(r.tx)
}
