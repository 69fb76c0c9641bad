// Package memory is the default non-durable storage. State is lost on restart and is
// not shared between processes; run the Postgres store for anything else.
package memory

import (
	"context"
	"sync"

	"crypto-payment-gate/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
)

var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager runs one fn at a time. Writes are not rolled back when fn fails.
type TxManager struct {
	mu sync.Mutex
}

func NewTxManager() *TxManager { return &TxManager{} }

func (m *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, repository.NoTX)
}
