// Package db provides the shared database pool abstraction and helpers. Pool
// is satisfied by both *pgxpool.Pool and pgxmock pools so stores can be tested
// without a live database.
package db

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of pgxpool.Pool the stores depend on.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PairLockKey derives a stable advisory-lock key for a (doc_type, model)
// pair. Concurrent evolutions for the same pair serialize on this key;
// different pairs proceed independently.
func PairLockKey(docType, model string) int64 {
	h := fnv.New64a()
	h.Write([]byte(docType))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return int64(h.Sum64())
}

// AcquirePairLock takes a transaction-scoped advisory lock for the pair.
// Released automatically at commit or rollback.
func AcquirePairLock(ctx context.Context, tx pgx.Tx, docType, model string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", PairLockKey(docType, model)); err != nil {
		return eris.Wrapf(err, "db: acquire advisory lock for %s/%s", docType, model)
	}
	return nil
}

// SessionPairLocker holds a session advisory lock on a pinned connection so a
// whole evolution-and-gate sequence for one pair runs exclusively, across
// processes. Session locks are connection-scoped, so the connection stays
// checked out until release.
type SessionPairLocker struct {
	pool *pgxpool.Pool
}

// NewSessionPairLocker creates a SessionPairLocker over the pool.
func NewSessionPairLocker(pool *pgxpool.Pool) *SessionPairLocker {
	return &SessionPairLocker{pool: pool}
}

// LockPair blocks until the pair lock is held and returns the release func.
func (l *SessionPairLocker) LockPair(ctx context.Context, docType, model string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "db: acquire connection for pair lock %s/%s", docType, model)
	}
	key := PairLockKey(docType, model)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Release()
		return nil, eris.Wrapf(err, "db: acquire pair lock for %s/%s", docType, model)
	}
	return func() {
		// The caller's context may already be done; the unlock must still run.
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
			zap.L().Warn("failed to release pair lock",
				zap.String("doc_type", docType),
				zap.String("model", model),
				zap.Error(err),
			)
		}
		conn.Release()
	}, nil
}
