package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is the backend transaction handle, passed as the `qx any` argument.
type Tx = any

var NoTX Tx

// TransactionManager runs fn inside a storage transaction and hands the
// backend specific handle to repositories through the `qx any` argument.
//
// Repositories must accept a nil qx (non-transactional path). When qx is a
// transaction, reads may lock rows (SELECT ... FOR UPDATE on Postgres).
// Backends without transactions run fn directly with NoTX.
// The memory backend runs one fn at a time.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
