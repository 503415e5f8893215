package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/rs/zerolog/log"
)

// ListUsers returns every user of the local identity mirror.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.conn().QueryContext(ctx, `SELECT id, email, name, last_login FROM auth_users ORDER BY id;`)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list users")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &lastLogin); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		if lastLogin.Valid {
			t := lastLogin.Time
			u.LastLogin = &t
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return users, nil
}

// AddUser inserts a user and returns its id. An existing email returns the
// existing id.
func (s *Store) AddUser(ctx context.Context, email, name string) (int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return 0, dberror.ErrInvalidInput.Msg("email is required")
	}
	query := `
		INSERT INTO auth_users (email, name)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id;
	`
	var id int64
	if err := s.conn().QueryRowContext(ctx, query, email, name).Scan(&id); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("email", email).Msg("failed to insert user")
		return 0, dberror.ErrDatabase.Err(err)
	}
	return id, nil
}

func (s *Store) AddUserProvider(ctx context.Context, userID int64, providerRef string) error {
	query := `
		INSERT INTO auth_user_providers (user_id, provider_ref)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING;
	`
	if _, err := s.conn().ExecContext(ctx, query, userID, providerRef); err != nil {
		if dberror.IsForeignKeyViolation(err) {
			return dberror.ErrNotFound.Msg(fmt.Sprintf("user %d not found", userID))
		}
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) AddUserGroup(ctx context.Context, userID, groupID int64) error {
	query := `
		INSERT INTO auth_user_groups (user_id, group_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING;
	`
	if _, err := s.conn().ExecContext(ctx, query, userID, groupID); err != nil {
		if dberror.IsForeignKeyViolation(err) {
			return dberror.ErrNotFound.Msg(fmt.Sprintf("user %d or group %d not found", userID, groupID))
		}
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	if _, err := s.conn().ExecContext(ctx, `DELETE FROM auth_users WHERE id = $1;`, userID); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("failed to delete user")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// CreateSystemUser creates the service identity of a project.
func (s *Store) CreateSystemUser(ctx context.Context, projectID int64) (int64, error) {
	return s.AddUser(ctx, s.SystemUserEmail(projectID), fmt.Sprintf("system user of project %d", projectID))
}

// GetProjectSystemUser returns the id of the project's system user.
func (s *Store) GetProjectSystemUser(ctx context.Context, projectID int64) (int64, error) {
	var id int64
	err := s.conn().QueryRowContext(ctx, `SELECT id FROM auth_users WHERE email = $1;`, s.SystemUserEmail(projectID)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, dberror.ErrNotFound.Msg(fmt.Sprintf("system user of project %d not found", projectID))
		}
		return 0, dberror.ErrDatabase.Err(err)
	}
	return id, nil
}

func (s *Store) CreateToken(ctx context.Context, t *models.Token) error {
	query := `
		INSERT INTO auth_tokens (uuid, user_id, name, hash, expires)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at;
	`
	var expires sql.NullTime
	if t.ExpiresAt != nil {
		expires = sql.NullTime{Time: *t.ExpiresAt, Valid: true}
	}
	err := s.conn().QueryRowContext(ctx, query, t.UUID, t.UserID, t.Name, t.Hash, expires).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if dberror.IsDuplicate(err) {
			return dberror.ErrAlreadyExists.Msg("token already exists")
		}
		if dberror.IsForeignKeyViolation(err) {
			return dberror.ErrNotFound.Msg(fmt.Sprintf("user %d not found", t.UserID))
		}
		log.Ctx(ctx).Error().Err(err).Int64("user_id", t.UserID).Msg("failed to insert token")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) DeleteUserTokens(ctx context.Context, userID int64) error {
	if _, err := s.conn().ExecContext(ctx, `DELETE FROM auth_tokens WHERE user_id = $1;`, userID); err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}
