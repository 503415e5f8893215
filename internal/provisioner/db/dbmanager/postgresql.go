// Package dbmanager opens the Postgres connection pool used by the stores.
package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"
)

type PoolOptions struct {
	MaxOpenConns     int
	StatementTimeout time.Duration
}

// sessionParams are applied to every connection the pool opens.
func sessionParams(statementTimeout time.Duration) map[string]string {
	if statementTimeout <= 0 {
		statementTimeout = 5 * time.Second
	}
	ms := fmt.Sprintf("%d", statementTimeout.Milliseconds())
	return map[string]string{
		"lock_timeout":                        ms,
		"statement_timeout":                   ms,
		"idle_in_transaction_session_timeout": ms,
		"application_name":                    "provisioner",
	}
}

// Open parses dsn, attaches session parameters and returns a pinged pool.
func Open(ctx context.Context, dsn string, opts PoolOptions) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database dsn: %w", err)
	}
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = make(map[string]string)
	}
	for k, v := range sessionParams(opts.StatementTimeout) {
		connCfg.RuntimeParams[k] = v
	}

	db := stdlib.OpenDB(*connCfg)
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
