package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, subscriber_id, tier, billing_interval, status, chain, amount::text, currency, start_date, expires_at, next_billing_date, cancel_at_period_end, payment_id, created_at, updated_at`

// Save overwrites whatever subscription the subscriber had, keyed on subscriber_id.
func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if s == nil || s.ID == "" || s.SubscriberID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO subscriptions (
  id, subscriber_id, tier, billing_interval, status, chain, amount, currency, start_date, expires_at, next_billing_date, cancel_at_period_end, payment_id, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (subscriber_id) DO UPDATE SET
  id=$1, tier=$3, billing_interval=$4, status=$5, chain=$6, amount=$7::numeric, currency=$8, start_date=$9,
  expires_at=$10, next_billing_date=$11, cancel_at_period_end=$12, payment_id=$13, created_at=$14, updated_at=$15;`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.SubscriberID, s.Tier, string(s.Interval), string(s.Status), string(s.Chain),
		s.Amount.String(), s.Currency, s.StartDate, s.ExpiresAt, s.NextBillingDate, s.CancelAtPeriodEnd, s.PaymentID, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return err
		case isUniqueViolation(err):
			return domain.ErrAlreadyExists
		default:
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", id)
}

func (r *subscriptionRepo) FindBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE subscriber_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", subscriberID)
}

// Update applies the patch inside one statement; nil patch fields keep the stored value.
func (r *subscriptionRepo) Update(ctx context.Context, tx repository.Tx, id string, p model.SubscriptionPatch) (*model.Subscription, error) {
	var status *string
	if p.Status != nil {
		s := string(*p.Status)
		status = &s
	}
	q := `
UPDATE subscriptions SET
  tier=COALESCE($2, tier),
  status=COALESCE($3, status),
  payment_id=COALESCE($4, payment_id),
  cancel_at_period_end=COALESCE($5, cancel_at_period_end),
  expires_at=COALESCE($6, expires_at),
  next_billing_date=CASE WHEN $8 THEN NULL ELSE COALESCE($7, next_billing_date) END,
  updated_at=NOW()
WHERE id=$1
RETURNING ` + subscriptionColumns + `;`
	return r.queryOne(ctx, tx, q, id, p.Tier, status, p.PaymentID, p.CancelAtPeriodEnd, p.ExpiresAt, p.NextBillingDate, p.ClearBillingDate)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}

	s := &model.Subscription{}
	var interval, status, chain, amount string
	if err := row.Scan(&s.ID, &s.SubscriberID, &s.Tier, &interval, &status, &chain, &amount, &s.Currency, &s.StartDate,
		&s.ExpiresAt, &s.NextBillingDate, &s.CancelAtPeriodEnd, &s.PaymentID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Interval = model.BillingInterval(interval)
	s.Status = model.SubscriptionStatus(status)
	s.Chain = model.Chain(chain)
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	s.Amount = d
	return s, nil
}
