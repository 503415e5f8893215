// Package membership attaches users to projects, creating them in the
// identity provider when they are not known yet.
package membership

import (
	"context"
	"fmt"
	"strings"

	"github.com/carrierhub/provisioner/internal/common"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/identity"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type IdentityProvider interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetToken(ctx context.Context) (string, error)
	CreateUserRepresentation(email, password string) identity.UserRepresentation
	PostUser(ctx context.Context, realm, token string, user identity.UserRepresentation) (string, error)
	Realm() string
}

type AuthStore interface {
	AddUser(ctx context.Context, email, name string) (int64, error)
	AddUserProvider(ctx context.Context, userID int64, providerRef string) error
	AddUserGroup(ctx context.Context, userID, groupID int64) error
}

type ProjectStore interface {
	CheckUserInProject(ctx context.Context, projectID, userID int64) (bool, error)
	GetUsersIDsInProject(ctx context.Context, projectID int64) ([]models.ProjectUser, error)
	AddUserToProject(ctx context.Context, projectID, userID int64, roles []string) error
}

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result reports what EnsureMembership did. StatusError marks an informational
// conflict, not a failure.
type Result struct {
	Status Status `json:"status"`
	Msg    string `json:"msg"`
	Email  string `json:"email"`
}

type Resolver struct {
	idp            IdentityProvider
	auth           AuthStore
	projects       ProjectStore
	defaultGroupID int64
}

func NewResolver(idp IdentityProvider, auth AuthStore, projects ProjectStore, defaultGroupID int64) *Resolver {
	return &Resolver{
		idp:            idp,
		auth:           auth,
		projects:       projects,
		defaultGroupID: defaultGroupID,
	}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

// EnsureMembership makes email a member of projectID with roles. Errors of
// the identity provider and the stores are returned unchanged.
func (r *Resolver) EnsureMembership(ctx context.Context, email string, projectID int64, roles []string) (Result, error) {
	email = NormalizeEmail(email)
	logger := log.Ctx(ctx).With().Str("email", email).Int64("project_id", projectID).Logger()

	users, err := r.idp.ListUsers(ctx)
	if err != nil {
		return Result{}, err
	}
	for _, u := range users {
		if NormalizeEmail(u.Email) != email {
			continue
		}
		in, err := r.projects.CheckUserInProject(ctx, projectID, u.ID)
		if err != nil {
			return Result{}, err
		}
		if in {
			logger.Info().Msg("user already in project")
			return Result{
				Status: StatusError,
				Msg:    fmt.Sprintf("user %s already exists in project %d", email, projectID),
				Email:  email,
			}, nil
		}
		if err := r.projects.AddUserToProject(ctx, projectID, u.ID, roles); err != nil {
			return Result{}, err
		}
		logger.Info().Strs("roles", roles).Msg("user added to project")
		return Result{
			Status: StatusOK,
			Msg:    fmt.Sprintf("user %s added to project %d", email, projectID),
			Email:  email,
		}, nil
	}

	userID, err := r.createUser(ctx, email)
	if err != nil {
		return Result{}, err
	}
	if err := r.projects.AddUserToProject(ctx, projectID, userID, roles); err != nil {
		return Result{}, err
	}
	logger.Info().Int64("user_id", userID).Strs("roles", roles).Msg("user created and added to project")
	return Result{
		Status: StatusOK,
		Msg:    fmt.Sprintf("user %s created and added to project %d", email, projectID),
		Email:  email,
	}, nil
}

func (r *Resolver) createUser(ctx context.Context, email string) (int64, error) {
	token, err := r.idp.GetToken(ctx)
	if err != nil {
		return 0, err
	}
	password, err := common.GeneratePassword(common.DefaultPasswordLength)
	if err != nil {
		return 0, err
	}
	providerID, err := r.idp.PostUser(ctx, r.idp.Realm(), token, r.idp.CreateUserRepresentation(email, password))
	if err != nil {
		return 0, err
	}
	log.Ctx(ctx).Debug().Str("email", email).Str("provider_id", providerID).Msg("user created in identity provider")

	name, _, _ := strings.Cut(email, "@")
	userID, err := r.auth.AddUser(ctx, email, name)
	if err != nil {
		return 0, err
	}
	if err := r.auth.AddUserProvider(ctx, userID, email); err != nil {
		return 0, err
	}
	if err := r.auth.AddUserGroup(ctx, userID, r.defaultGroupID); err != nil {
		return 0, err
	}
	return userID, nil
}

// Members lists the users of a project with their roles.
func (r *Resolver) Members(ctx context.Context, projectID int64) ([]models.ProjectUser, error) {
	return r.projects.GetUsersIDsInProject(ctx, projectID)
}
