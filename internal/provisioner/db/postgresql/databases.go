package postgresql

import (
	"context"

	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// CreateDatabase creates an auxiliary database. An existing one is kept.
func (s *Store) CreateDatabase(ctx context.Context, name string) error {
	if name == "" {
		return dberror.ErrInvalidInput.Msg("database name is required")
	}
	if _, err := s.conn().ExecContext(ctx, `CREATE DATABASE `+pq.QuoteIdentifier(name)+`;`); err != nil {
		if dberror.IsDuplicate(err) {
			log.Ctx(ctx).Info().Str("database", name).Msg("database already exists")
			return nil
		}
		log.Ctx(ctx).Error().Err(err).Str("database", name).Msg("failed to create database")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) DropDatabase(ctx context.Context, name string) error {
	if name == "" {
		return dberror.ErrInvalidInput.Msg("database name is required")
	}
	if _, err := s.conn().ExecContext(ctx, `DROP DATABASE IF EXISTS `+pq.QuoteIdentifier(name)+`;`); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("database", name).Msg("failed to drop database")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}
