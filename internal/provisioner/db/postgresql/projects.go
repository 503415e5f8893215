package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const projectColumns = `id, name, owner, plugins, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	var plugins pq.StringArray
	if err := row.Scan(&p.ID, &p.Name, &p.Owner, &plugins, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Plugins = []string(plugins)
	if p.Plugins == nil {
		p.Plugins = []string{}
	}
	return &p, nil
}

// CreateProject inserts p and fills its id and creation time.
func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	if p == nil || p.Name == "" {
		return dberror.ErrInvalidInput.Msg("project name is required")
	}
	query := `
		INSERT INTO projects (name, owner, plugins)
		VALUES ($1, $2, $3)
		RETURNING id, created_at;
	`
	plugins := p.Plugins
	if plugins == nil {
		plugins = []string{}
	}
	err := s.conn().QueryRowContext(ctx, query, p.Name, p.Owner, pq.Array(plugins)).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("name", p.Name).Msg("failed to insert project")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, projectID int64) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1;`
	p, err := scanProject(s.conn().QueryRowContext(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg(fmt.Sprintf("project %d not found", projectID))
		}
		log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Msg("failed to retrieve project")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return p, nil
}

// FindProjectByName returns the oldest project with the given name.
func (s *Store) FindProjectByName(ctx context.Context, name string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE name = $1 ORDER BY id LIMIT 1;`
	p, err := scanProject(s.conn().QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg(fmt.Sprintf("project %q not found", name))
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	return p, nil
}

// ListProjects pages through projects ordered by id. Search matches the name
// case-insensitively.
func (s *Store) ListProjects(ctx context.Context, opts models.ListOptions) ([]models.Project, error) {
	var (
		where []string
		args  []any
	)
	if opts.Search != "" {
		args = append(args, "%"+escapeLike(opts.Search)+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list projects")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return projects, nil
}

// UpdateProject applies the non-zero fields of upd.
func (s *Store) UpdateProject(ctx context.Context, projectID int64, upd models.ProjectUpdate) (*models.Project, error) {
	query := `
		UPDATE projects SET
			name = COALESCE(NULLIF($2, ''), name),
			owner = CASE WHEN $3::BIGINT = 0 THEN owner ELSE $3::BIGINT END,
			plugins = COALESCE($4, plugins)
		WHERE id = $1
		RETURNING ` + projectColumns + `;
	`
	p, err := scanProject(s.conn().QueryRowContext(ctx, query, projectID, upd.Name, upd.Owner, pluginsArg(upd.Plugins)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg(fmt.Sprintf("project %d not found", projectID))
		}
		log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Msg("failed to update project")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return p, nil
}

// pluginsArg is NULL for an empty list so the stored plugins are kept.
func pluginsArg(plugins []string) any {
	if len(plugins) == 0 {
		return nil
	}
	return pq.Array(plugins)
}

// DeleteProject removes the project row. Deleting a missing row is not an error.
func (s *Store) DeleteProject(ctx context.Context, projectID int64) error {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM projects WHERE id = $1;`, projectID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Msg("failed to delete project")
		return dberror.ErrDatabase.Err(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Ctx(ctx).Info().Int64("project_id", projectID).Msg("project row already absent")
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
