package postgresql

import (
	"context"

	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

func (s *Store) CreateSchema(ctx context.Context, projectID int64) error {
	query := `CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(s.SchemaName(projectID)) + `;`
	if _, err := s.conn().ExecContext(ctx, query); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Msg("failed to create schema")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// DropSchema drops the project schema and everything in it.
func (s *Store) DropSchema(ctx context.Context, projectID int64) error {
	query := `DROP SCHEMA IF EXISTS ` + pq.QuoteIdentifier(s.SchemaName(projectID)) + ` CASCADE;`
	if _, err := s.conn().ExecContext(ctx, query); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Msg("failed to drop schema")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}
