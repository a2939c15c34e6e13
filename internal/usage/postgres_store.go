package usage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/plinthhq/plinth/internal/pagination"
)

// PostgresStore persists subscriptions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, sub *Subscription) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			tenant_id, public_key, subject_id, plan, status,
			usage_count, usage_limit, customer_id,
			period_start, period_end, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, public_key, subject_id) DO NOTHING`,
		sub.TenantID, sub.PublicKey, sub.SubjectID, sub.Plan, string(sub.Status),
		sub.UsageCount, sub.UsageLimit, sub.CustomerID,
		sub.PeriodStart, sub.PeriodEnd, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, publicKey, subjectID string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, public_key, subject_id, plan, status,
		       usage_count, usage_limit, customer_id,
		       period_start, period_end, created_at, updated_at
		FROM subscriptions
		WHERE tenant_id = $1 AND public_key = $2 AND subject_id = $3`,
		tenantID, publicKey, subjectID)
	return scanSubscription(row)
}

func (p *PostgresStore) SubjectTenant(ctx context.Context, subjectID string) (string, bool, error) {
	var tenantID string
	err := p.db.QueryRowContext(ctx, `
		SELECT tenant_id FROM subscriptions WHERE subject_id = $1 LIMIT 1`,
		subjectID).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return tenantID, true, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, tenantID, subjectID string, status Status, periodEnd time.Time) (int64, error) {
	var result sql.Result
	var err error
	if periodEnd.IsZero() {
		result, err = p.db.ExecContext(ctx, `
			UPDATE subscriptions SET status = $1, updated_at = now()
			WHERE tenant_id = $2 AND subject_id = $3`,
			string(status), tenantID, subjectID)
	} else {
		result, err = p.db.ExecContext(ctx, `
			UPDATE subscriptions SET status = $1, period_end = $2, updated_at = now()
			WHERE tenant_id = $3 AND subject_id = $4`,
			string(status), periodEnd, tenantID, subjectID)
	}
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (p *PostgresStore) SetCustomer(ctx context.Context, tenantID, subjectID, customerID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET customer_id = $1, updated_at = now()
		WHERE tenant_id = $2 AND subject_id = $3`,
		customerID, tenantID, subjectID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Increment(ctx context.Context, tenantID, publicKey, subjectID string, n int64) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `
		UPDATE subscriptions
		SET usage_count = usage_count + $1, updated_at = now()
		WHERE tenant_id = $2 AND public_key = $3 AND subject_id = $4
		RETURNING usage_count`,
		n, tenantID, publicKey, subjectID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Subscription, error) {
	query := `
		SELECT tenant_id, public_key, subject_id, plan, status,
		       usage_count, usage_limit, customer_id,
		       period_start, period_end, created_at, updated_at
		FROM subscriptions
		WHERE tenant_id = $1`
	args := []any{tenantID}

	if cursor != nil {
		query += ` AND (created_at, subject_id) > ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at, subject_id LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var subs []*Subscription
	for rows.Next() {
		var sub Subscription
		var status string
		if err := rows.Scan(
			&sub.TenantID, &sub.PublicKey, &sub.SubjectID, &sub.Plan, &status,
			&sub.UsageCount, &sub.UsageLimit, &sub.CustomerID,
			&sub.PeriodStart, &sub.PeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sub.Status = Status(status)
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

func (p *PostgresStore) DeleteTenant(ctx context.Context, tenantID string) (int64, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanSubscription(row *sql.Row) (*Subscription, error) {
	var sub Subscription
	var status string
	err := row.Scan(
		&sub.TenantID, &sub.PublicKey, &sub.SubjectID, &sub.Plan, &status,
		&sub.UsageCount, &sub.UsageLimit, &sub.CustomerID,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Status = Status(status)
	return &sub, nil
}
