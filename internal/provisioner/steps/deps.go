package steps

import (
	"context"

	"github.com/carrierhub/provisioner/internal/provisioner/broker"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/membership"
)

type ProjectStore interface {
	CreateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, projectID int64) error
}

type SchemaStore interface {
	CreateSchema(ctx context.Context, projectID int64) error
	DropSchema(ctx context.Context, projectID int64) error
}

type RoleStore interface {
	CreateProjectRoles(ctx context.Context, projectID int64, roles map[string][]string) error
	DropProjectRoles(ctx context.Context, projectID int64) error
}

type SystemUserStore interface {
	CreateSystemUser(ctx context.Context, projectID int64) (int64, error)
	DeleteUser(ctx context.Context, userID int64) error
}

type TokenStore interface {
	CreateToken(ctx context.Context, t *models.Token) error
	DeleteUserTokens(ctx context.Context, userID int64) error
}

type SecretsStore interface {
	Init(ctx context.Context, projectID int64, systemToken string) (SecretsHandle, error)
	Remove(ctx context.Context, projectID int64) error
}

type VhostAdmin interface {
	VhostName(projectID int64) string
	CreateVhost(ctx context.Context, projectID int64) (*broker.Credentials, error)
	DeleteVhost(ctx context.Context, projectID int64) error
}

type QueueRegistry interface {
	Forget(ctx context.Context, vhost string) error
}

type DatabaseAdmin interface {
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
}

type MembershipResolver interface {
	EnsureMembership(ctx context.Context, email string, projectID int64, roles []string) (membership.Result, error)
}

// Deps are the subsystems the steps drive.
type Deps struct {
	Projects  ProjectStore
	Schemas   SchemaStore
	Roles     RoleStore
	Users     SystemUserStore
	Tokens    TokenStore
	Secrets   SecretsStore
	Vhosts    VhostAdmin
	Queues    QueueRegistry
	Databases DatabaseAdmin
	Members   MembershipResolver
}

// Settings parameterize the steps.
type Settings struct {
	Roles        map[string][]string
	AdminRoles   []string
	InviteeRoles []string
	AuxDatabases []config.AuxDatabase
	SigningKey   []byte
	Issuer       string
}
