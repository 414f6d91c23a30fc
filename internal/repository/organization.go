package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/vectis/internal/domain"
)

type OrganizationRepository struct {
	db dbtx
}

func NewOrganizationRepository(pool *pgxpool.Pool) *OrganizationRepository {
	return &OrganizationRepository{db: pool}
}

func (r *OrganizationRepository) Create(ctx context.Context, org *domain.Organization) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO organizations (id, name, credit_balance, created_at)
		 VALUES ($1, $2, $3, $4)`,
		org.ID, org.Name, org.CreditBalance, org.CreatedAt,
	)
	return err
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.QueryRow(ctx,
		`SELECT id, name, credit_balance, created_at FROM organizations WHERE id = $1`,
		id,
	).Scan(&org.ID, &org.Name, &org.CreditBalance, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (r *OrganizationRepository) AddCredits(ctx context.Context, id string, units int64) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE organizations SET credit_balance = credit_balance + $1 WHERE id = $2`,
		units, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

// CheckQuota verifies the organization has at least units of credit left.
// It never reserves; RecordUsage does the debit after the provider call
// succeeds, so a failed call costs nothing.
func (r *OrganizationRepository) CheckQuota(ctx context.Context, orgID string, units int64) error {
	org, err := r.GetByID(ctx, orgID)
	if err != nil {
		return err
	}
	if org.CreditBalance < units {
		return domain.ErrQuotaExceeded
	}
	return nil
}

// RecordUsage debits the balance and writes the usage record in one
// transaction-free pair of statements; the debit is the authoritative side.
func (r *OrganizationRepository) RecordUsage(ctx context.Context, orgID string, units int64, provider, model string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE organizations SET credit_balance = credit_balance - $1 WHERE id = $2`,
		units, orgID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrOrganizationNotFound
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO usage_records (id, org_id, units, provider, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), orgID, units, provider, model, time.Now().UTC(),
	)
	return err
}

func (r *OrganizationRepository) ListUsage(ctx context.Context, orgID string, limit int) ([]*domain.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, org_id, units, provider, model, created_at
		 FROM usage_records WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`,
		orgID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.Units, &rec.Provider, &rec.Model, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
