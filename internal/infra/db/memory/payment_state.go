package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/repository"
)

var _ repository.PaymentStateRepository = (*PaymentStateRepo)(nil)

type PaymentStateRepo struct {
	mu     sync.RWMutex
	states map[string]*model.PaymentState
	now    func() time.Time
}

func NewPaymentStateRepo() *PaymentStateRepo {
	return &PaymentStateRepo{states: make(map[string]*model.PaymentState), now: time.Now}
}

func clonePaymentState(ps *model.PaymentState) *model.PaymentState {
	cp := *ps
	if ps.Options != nil {
		cp.Options = append([]model.PaymentOption(nil), ps.Options...)
	}
	if ps.Verification != nil {
		v := *ps.Verification
		cp.Verification = &v
	}
	return &cp
}

func (r *PaymentStateRepo) Create(_ context.Context, _ any, ps *model.PaymentState) error {
	if ps == nil || ps.ID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[ps.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.states[ps.ID] = clonePaymentState(ps)
	return nil
}

func (r *PaymentStateRepo) FindByID(_ context.Context, _ any, id string) (*model.PaymentState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.states[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePaymentState(ps), nil
}

func (r *PaymentStateRepo) UpdateStatus(_ context.Context, _ any, id string, from []model.PaymentStatus, to model.PaymentStatus, chain model.Chain, v *model.PaymentVerification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.states[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !statusIn(ps.Status, from) {
		return false, nil
	}
	if to == model.PaymentStatusConfirmed && v != nil && v.TxID != "" {
		c := ps.Chain
		if chain != "" {
			c = chain
		}
		if r.settlementClaimed(c, v.TxID, id) {
			return false, domain.ErrAlreadyExists
		}
	}
	ps.Status = to
	if chain != "" {
		ps.Chain = chain
	}
	if v != nil {
		cp := *v
		ps.Verification = &cp
	}
	ps.UpdatedAt = r.now().UTC()
	return true, nil
}

// settlementClaimed reports whether another confirmed state holds txID on chain. Callers hold mu.
func (r *PaymentStateRepo) settlementClaimed(chain model.Chain, txID, except string) bool {
	for _, ps := range r.states {
		if ps.ID != except && ps.Status == model.PaymentStatusConfirmed && ps.Chain == chain &&
			ps.Verification != nil && ps.Verification.TxID == txID {
			return true
		}
	}
	return false
}

func (r *PaymentStateRepo) MarkConsumed(_ context.Context, _ any, id, consumer string) (bool, error) {
	if consumer == "" {
		return false, domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.states[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if ps.Status != model.PaymentStatusConfirmed || ps.ConsumedBy != "" {
		return false, nil
	}
	ps.ConsumedBy = consumer
	ps.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *PaymentStateRepo) ReleaseVerifying(_ context.Context, _ any, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := r.now().UTC()
	for _, ps := range r.states {
		if ps.Status == model.PaymentStatusVerifying && ps.UpdatedAt.Before(cutoff) && now.Before(ps.ExpiresAt) {
			ps.Status = model.PaymentStatusPending
			ps.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *PaymentStateRepo) FindConfirmedBySettlement(_ context.Context, _ any, chain model.Chain, txID string) (*model.PaymentState, error) {
	if txID == "" {
		return nil, domain.ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ps := range r.states {
		if ps.Status == model.PaymentStatusConfirmed && ps.Chain == chain &&
			ps.Verification != nil && ps.Verification.TxID == txID {
			return clonePaymentState(ps), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *PaymentStateRepo) ListPendingOlderThan(_ context.Context, _ any, olderThan time.Time, limit int) ([]*model.PaymentState, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.RLock()
	var out []*model.PaymentState
	for _, ps := range r.states {
		if ps.Status == model.PaymentStatusPending && ps.CreatedAt.Before(olderThan) {
			out = append(out, clonePaymentState(ps))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PaymentStateRepo) ExpireBefore(_ context.Context, _ any, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := r.now().UTC()
	for _, ps := range r.states {
		if (ps.Status == model.PaymentStatusPending || ps.Status == model.PaymentStatusVerifying) && !cutoff.Before(ps.ExpiresAt) {
			ps.Status = model.PaymentStatusExpired
			ps.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func statusIn(s model.PaymentStatus, set []model.PaymentStatus) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}
