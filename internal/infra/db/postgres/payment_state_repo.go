package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/repository"
)

var _ repository.PaymentStateRepository = (*paymentStateRepo)(nil)

type paymentStateRepo struct{ pool *pgxpool.Pool }

func NewPaymentStateRepo(pool *pgxpool.Pool) *paymentStateRepo {
	return &paymentStateRepo{pool: pool}
}

const paymentStateColumns = `id, status, endpoint, amount_usd::text, chain, reference, options, verification, consumed_by, created_at, expires_at, updated_at`

func (r *paymentStateRepo) Create(ctx context.Context, tx repository.Tx, ps *model.PaymentState) error {
	if ps == nil || ps.ID == "" {
		return domain.ErrInvalidArgument
	}
	opts, err := json.Marshal(ps.Options)
	if err != nil {
		return err
	}
	var ver []byte
	if ps.Verification != nil {
		if ver, err = json.Marshal(ps.Verification); err != nil {
			return err
		}
	}
	const q = `
INSERT INTO payment_states (
  id, status, endpoint, amount_usd, chain, reference, options, verification, settlement_tx, created_at, expires_at, updated_at
) VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10,$11,$12);`

	_, err = execSQL(ctx, r.pool, tx, q, ps.ID, string(ps.Status), ps.Endpoint, ps.AmountUSD.String(), string(ps.Chain), ps.Reference,
		opts, ver, settlementOf(ps.Verification), ps.CreatedAt, ps.ExpiresAt, ps.UpdatedAt)
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

func (r *paymentStateRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentState, error) {
	q := `SELECT ` + paymentStateColumns + ` FROM payment_states WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPaymentState(row)
}

// UpdateStatus is a single conditional UPDATE, so concurrent callers race on the row lock
// and at most one of them sees a changed row.
func (r *paymentStateRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, from []model.PaymentStatus, to model.PaymentStatus, chain model.Chain, v *model.PaymentVerification) (bool, error) {
	fromText := make([]string, len(from))
	for i, s := range from {
		fromText[i] = string(s)
	}
	var ver []byte
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return false, err
		}
		ver = b
	}
	var settlement *string
	if to == model.PaymentStatusConfirmed {
		settlement = settlementOf(v)
	}

	const q = `
UPDATE payment_states
   SET status=$3,
       chain=COALESCE(NULLIF($4, ''), chain),
       verification=COALESCE($5, verification),
       settlement_tx=COALESCE($6, settlement_tx),
       updated_at=NOW()
 WHERE id=$1 AND status = ANY($2);`

	tag, err := execSQL(ctx, r.pool, tx, q, id, fromText, string(to), string(chain), ver, settlement)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return false, err
		case isUniqueViolation(err):
			return false, domain.ErrAlreadyExists
		default:
			return false, domain.ErrOperationFailed
		}
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing row.
	var exists bool
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS(SELECT 1 FROM payment_states WHERE id=$1);`, id)
	if err != nil {
		return false, err
	}
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *paymentStateRepo) FindConfirmedBySettlement(ctx context.Context, tx repository.Tx, chain model.Chain, txID string) (*model.PaymentState, error) {
	if txID == "" {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + paymentStateColumns + ` FROM payment_states WHERE chain=$1 AND settlement_tx=$2 AND status='confirmed' LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, string(chain), txID)
	if err != nil {
		return nil, err
	}
	return scanPaymentState(row)
}

// MarkConsumed is a conditional UPDATE on consumed_by, so one confirmed payment pays for one
// subscription change no matter how many callers race.
func (r *paymentStateRepo) MarkConsumed(ctx context.Context, tx repository.Tx, id, consumer string) (bool, error) {
	if consumer == "" {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE payment_states
   SET consumed_by=$2, updated_at=NOW()
 WHERE id=$1 AND status='confirmed' AND consumed_by IS NULL;`

	tag, err := execSQL(ctx, r.pool, tx, q, id, consumer)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.FindByID(ctx, tx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *paymentStateRepo) ReleaseVerifying(ctx context.Context, tx repository.Tx, cutoff time.Time) (int64, error) {
	const q = `UPDATE payment_states SET status='pending', updated_at=NOW() WHERE status='verifying' AND updated_at < $1 AND expires_at > NOW();`
	tag, err := execSQL(ctx, r.pool, tx, q, cutoff)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return 0, err
		}
		return 0, domain.ErrOperationFailed
	}
	return tag.RowsAffected(), nil
}

func (r *paymentStateRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentState, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + paymentStateColumns + ` FROM payment_states WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.PaymentState
	for rows.Next() {
		ps, err := scanPaymentState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *paymentStateRepo) ExpireBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int64, error) {
	const q = `UPDATE payment_states SET status='expired', updated_at=NOW() WHERE status IN ('pending','verifying') AND expires_at <= $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, cutoff)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return 0, err
		}
		return 0, domain.ErrOperationFailed
	}
	return tag.RowsAffected(), nil
}

func scanPaymentState(row pgx.Row) (*model.PaymentState, error) {
	var (
		ps        model.PaymentState
		status    string
		amount    string
		chain     string
		opts, ver []byte
		consumed  *string
	)
	if err := row.Scan(&ps.ID, &status, &ps.Endpoint, &amount, &chain, &ps.Reference, &opts, &ver, &consumed, &ps.CreatedAt, &ps.ExpiresAt, &ps.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	ps.Status = model.PaymentStatus(status)
	ps.Chain = model.Chain(chain)
	if consumed != nil {
		ps.ConsumedBy = *consumed
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	ps.AmountUSD = d
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &ps.Options); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	if len(ver) > 0 {
		ps.Verification = &model.PaymentVerification{}
		if err := json.Unmarshal(ver, ps.Verification); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &ps, nil
}

func settlementOf(v *model.PaymentVerification) *string {
	if v == nil || v.TxID == "" {
		return nil
	}
	id := v.TxID
	return &id
}
