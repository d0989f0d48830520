package postgres

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/moot-session-engine/internal/store"
)

type txKey struct{}

// txContext attaches tx to ctx so that nested store calls made within a
// WithSessionLock/WithTx closure reuse the same transaction and see the
// locked row, instead of opening a second connection.
func txContext(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// txFromContext returns the transaction attached to ctx, or falls back to
// db when no transaction is present (a bare read outside any lock).
func txFromContext(ctx context.Context, db store.Queryer) store.Queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}
