package postgresql

import (
	"context"
	"database/sql"
	"sort"

	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/rs/zerolog/log"
)

// CreateProjectRoles creates the role tables in the project schema and
// installs roles with their permissions. Existing rows are kept.
func (s *Store) CreateProjectRoles(ctx context.Context, projectID int64, roles map[string][]string) error {
	rolesTbl := s.table(projectID, "roles")
	permsTbl := s.table(projectID, "role_permissions")
	userRolesTbl := s.table(projectID, "user_roles")

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + rolesTbl + ` (
			id SERIAL PRIMARY KEY,
			name VARCHAR(128) NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS ` + permsTbl + ` (
			role_id INTEGER NOT NULL REFERENCES ` + rolesTbl + ` (id) ON DELETE CASCADE,
			permission VARCHAR(256) NOT NULL,
			PRIMARY KEY (role_id, permission)
		);`,
		`CREATE TABLE IF NOT EXISTS ` + userRolesTbl + ` (
			user_id BIGINT NOT NULL,
			role_id INTEGER NOT NULL REFERENCES ` + rolesTbl + ` (id) ON DELETE CASCADE,
			PRIMARY KEY (user_id, role_id)
		);`,
	}

	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range ddl {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Msg("failed to create role tables")
				return dberror.ErrDatabase.Err(err)
			}
		}
		insertRole := `
			INSERT INTO ` + rolesTbl + ` (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id;
		`
		insertPerm := `
			INSERT INTO ` + permsTbl + ` (role_id, permission) VALUES ($1, $2)
			ON CONFLICT DO NOTHING;
		`
		for _, name := range names {
			var roleID int64
			if err := tx.QueryRowContext(ctx, insertRole, name).Scan(&roleID); err != nil {
				return dberror.ErrDatabase.Err(err)
			}
			for _, perm := range roles[name] {
				if _, err := tx.ExecContext(ctx, insertPerm, roleID, perm); err != nil {
					return dberror.ErrDatabase.Err(err)
				}
			}
		}
		return nil
	})
}

// DropProjectRoles drops the role tables. Missing tables or schema are ignored.
func (s *Store) DropProjectRoles(ctx context.Context, projectID int64) error {
	for _, name := range []string{"user_roles", "role_permissions", "roles"} {
		q := `DROP TABLE IF EXISTS ` + s.table(projectID, name) + `;`
		if _, err := s.conn().ExecContext(ctx, q); err != nil {
			if dberror.IsUndefined(err) {
				continue
			}
			log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Str("table", name).Msg("failed to drop role table")
			return dberror.ErrDatabase.Err(err)
		}
	}
	return nil
}
