// Package dbtx threads an open gorm transaction through a context so that
// separate gorm-backed services can join the same database transaction instead
// of competing for a second connection on the same pool.
package dbtx

import (
	"context"

	"gorm.io/gorm"
)

type contextKey struct{}

// With returns a context carrying the open transaction.
func With(ctx context.Context, transaction *gorm.DB) context.Context {
	return context.WithValue(ctx, contextKey{}, transaction)
}

// From extracts the ambient transaction, if any.
func From(ctx context.Context) (*gorm.DB, bool) {
	transaction, ok := ctx.Value(contextKey{}).(*gorm.DB)
	return transaction, ok
}
