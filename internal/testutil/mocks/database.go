// Package mocks provides shared mock implementations for testing.
// Keeping them here avoids duplicating mock code across test files.
package mocks

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/pos-payments/internal/domain/ports"
)

// DBPort executes transaction closures directly with a nil pgx.Tx. The
// repository fakes ignore the executor argument, so no real database is
// needed.
type DBPort struct{}

func (d *DBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (d *DBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (d *DBPort) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// NopLogger discards all log output
type NopLogger struct{}

func (NopLogger) Info(msg string, fields ...ports.Field)  {}
func (NopLogger) Error(msg string, fields ...ports.Field) {}
func (NopLogger) Warn(msg string, fields ...ports.Field)  {}
func (NopLogger) Debug(msg string, fields ...ports.Field) {}
