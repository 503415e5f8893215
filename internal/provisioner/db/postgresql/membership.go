package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// AddUserToProject grants the named roles to userID. Every role must exist in
// the project.
func (s *Store) AddUserToProject(ctx context.Context, projectID, userID int64, roles []string) error {
	if len(roles) == 0 {
		return dberror.ErrInvalidInput.Msg("at least one role is required")
	}
	rolesTbl := s.table(projectID, "roles")
	userRolesTbl := s.table(projectID, "user_roles")

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var known []string
		rows, err := tx.QueryContext(ctx, `SELECT name FROM `+rolesTbl+` WHERE name = ANY($1);`, pq.Array(roles))
		if err != nil {
			if dberror.IsUndefined(err) {
				return dberror.ErrNotFound.Msg(fmt.Sprintf("project %d has no roles", projectID))
			}
			return dberror.ErrDatabase.Err(err)
		}
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return dberror.ErrDatabase.Err(err)
			}
			known = append(known, n)
		}
		rows.Close()
		if missing := missingNames(roles, known); len(missing) > 0 {
			return dberror.ErrInvalidInput.Msg(fmt.Sprintf("unknown roles %v in project %d", missing, projectID))
		}

		query := `
			INSERT INTO ` + userRolesTbl + ` (user_id, role_id)
			SELECT $1, id FROM ` + rolesTbl + ` WHERE name = ANY($2)
			ON CONFLICT DO NOTHING;
		`
		if _, err := tx.ExecContext(ctx, query, userID, pq.Array(roles)); err != nil {
			log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Int64("user_id", userID).Msg("failed to add user to project")
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
}

func (s *Store) CheckUserInProject(ctx context.Context, projectID, userID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM ` + s.table(projectID, "user_roles") + ` WHERE user_id = $1);`
	var ok bool
	if err := s.conn().QueryRowContext(ctx, query, userID).Scan(&ok); err != nil {
		if dberror.IsUndefined(err) {
			return false, nil
		}
		return false, dberror.ErrDatabase.Err(err)
	}
	return ok, nil
}

// GetUsersIDsInProject lists members with their role names.
func (s *Store) GetUsersIDsInProject(ctx context.Context, projectID int64) ([]models.ProjectUser, error) {
	query := `
		SELECT ur.user_id, array_agg(r.name ORDER BY r.name)
		FROM ` + s.table(projectID, "user_roles") + ` ur
		JOIN ` + s.table(projectID, "roles") + ` r ON r.id = ur.role_id
		GROUP BY ur.user_id
		ORDER BY ur.user_id;
	`
	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		if dberror.IsUndefined(err) {
			return []models.ProjectUser{}, nil
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	users := []models.ProjectUser{}
	for rows.Next() {
		var u models.ProjectUser
		var roles pq.StringArray
		if err := rows.Scan(&u.UserID, &roles); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		u.Roles = []string(roles)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return users, nil
}

func missingNames(want, have []string) []string {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	var missing []string
	for _, w := range want {
		if !set[w] {
			missing = append(missing, w)
			set[w] = true
		}
	}
	return missing
}
