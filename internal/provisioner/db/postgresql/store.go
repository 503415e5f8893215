// Package postgresql implements the provisioner stores on Postgres.
package postgresql

import (
	"context"
	"database/sql"
	"strings"

	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// SchemaTemplate names the per-project schema; it must contain {project_id}.
	SchemaTemplate string
	// SystemUserEmail names a project's system user; it must contain {project_id}.
	SystemUserEmail string
}

// Store serves projects, the local auth mirror, per-project membership,
// auxiliary databases and usage accounting from one pool.
type Store struct {
	db   *sql.DB
	opts Options
}

func New(db *sql.DB, opts Options) *Store {
	if opts.SchemaTemplate == "" {
		opts.SchemaTemplate = "Project-{project_id}"
	}
	if opts.SystemUserEmail == "" {
		opts.SystemUserEmail = "system_user_{project_id}@provisioner.local"
	}
	return &Store{db: db, opts: opts}
}

func (s *Store) conn() *sql.DB {
	return s.db
}

// SchemaName returns the unquoted schema name for a project.
func (s *Store) SchemaName(projectID int64) string {
	return config.ExpandID(s.opts.SchemaTemplate, "project_id", projectID)
}

// table returns a quoted, schema qualified table name.
func (s *Store) table(projectID int64, name string) string {
	return pq.QuoteIdentifier(s.SchemaName(projectID)) + "." + pq.QuoteIdentifier(name)
}

func (s *Store) SystemUserEmail(projectID int64) string {
	return strings.ToLower(config.ExpandID(s.opts.SystemUserEmail, "project_id", projectID))
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to begin transaction")
		return dberror.ErrDatabase.Err(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}
