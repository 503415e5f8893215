// Package app assembles the provisioner from its configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/carrierhub/provisioner/internal/common/eventbus"
	"github.com/carrierhub/provisioner/internal/provisioner/broker"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/db/dbmanager"
	"github.com/carrierhub/provisioner/internal/provisioner/db/postgresql"
	"github.com/carrierhub/provisioner/internal/provisioner/identity"
	"github.com/carrierhub/provisioner/internal/provisioner/integrations"
	"github.com/carrierhub/provisioner/internal/provisioner/membership"
	"github.com/carrierhub/provisioner/internal/provisioner/metrics"
	"github.com/carrierhub/provisioner/internal/provisioner/project"
	"github.com/carrierhub/provisioner/internal/provisioner/secrets"
	"github.com/carrierhub/provisioner/internal/provisioner/server"
	"github.com/carrierhub/provisioner/internal/provisioner/steps"
	"github.com/carrierhub/provisioner/internal/provisioner/usage"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type App struct {
	Config   *config.ConfigParam
	DB       *sql.DB
	Store    *postgresql.Store
	Redis    *broker.RedisStore
	Events   *eventbus.EventBus
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Projects *project.Service
	Usage    *usage.Service
	Queues   *broker.QueueRegistry
	Members  *membership.Resolver
}

// vaultSecrets narrows the vault handle type to the one the steps use.
type vaultSecrets struct {
	vault *secrets.Vault
}

func (s vaultSecrets) Init(ctx context.Context, projectID int64, systemToken string) (steps.SecretsHandle, error) {
	h, err := s.vault.Init(ctx, projectID, systemToken)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s vaultSecrets) Remove(ctx context.Context, projectID int64) error {
	return s.vault.Remove(ctx, projectID)
}

func (s vaultSecrets) FromProject(projectID int64) steps.SecretsHandle {
	return s.vault.FromProject(projectID)
}

// New connects to every backing service named in cfg. The caller owns the
// returned App and must Close it.
func New(ctx context.Context, cfg *config.ConfigParam) (*App, error) {
	db, err := dbmanager.Open(ctx, cfg.DSN(), dbmanager.PoolOptions{
		MaxOpenConns:     cfg.DB.MaxOpenConns,
		StatementTimeout: cfg.StatementTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a := &App{
		Config:   cfg,
		DB:       db,
		Events:   eventbus.New(),
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)
	a.Store = postgresql.New(db, postgresql.Options{
		SchemaTemplate:  cfg.Provisioning.SchemaTemplate,
		SystemUserEmail: cfg.Auth.SystemUserEmail,
	})

	vault, err := secrets.New(secrets.Options{
		Address:      cfg.Vault.Address,
		Token:        cfg.Vault.Token,
		MountPrefix:  cfg.Vault.MountPrefix,
		PolicyPrefix: cfg.Vault.PolicyPrefix,
		Timeout:      cfg.VaultTimeout(),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating vault client: %w", err)
	}

	a.Redis = broker.NewRedisStore(broker.RedisOptions{
		Addr:      cfg.Redis.Addr,
		Username:  cfg.Redis.Username,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	a.Queues = broker.NewQueueRegistry(a.Redis)

	rabbit := broker.NewRabbitAdmin(broker.RabbitOptions{
		ManagementURL: cfg.Rabbit.ManagementURL,
		User:          cfg.Rabbit.User,
		Password:      cfg.Rabbit.Password,
		VhostTemplate: cfg.Rabbit.VhostTemplate,
		UserTemplate:  cfg.Rabbit.UserTemplate,
		InsecureTLS:   cfg.Rabbit.InsecureTLS,
	})

	keycloak := identity.NewKeycloak(identity.Options{
		URL:          cfg.Keycloak.URL,
		AdminRealm:   cfg.Keycloak.AdminRealm,
		ClientID:     cfg.Keycloak.ClientID,
		ClientSecret: cfg.Keycloak.ClientSecret,
		Realm:        cfg.Keycloak.Realm,
		InsecureTLS:  cfg.Keycloak.InsecureTLS,
	}, a.Store)
	a.Members = membership.NewResolver(keycloak, a.Store, a.Store, cfg.Keycloak.DefaultGroupID)

	vs := vaultSecrets{vault: vault}
	deps := steps.Deps{
		Projects:  a.Store,
		Schemas:   a.Store,
		Roles:     a.Store,
		Users:     a.Store,
		Tokens:    a.Store,
		Secrets:   vs,
		Vhosts:    rabbit,
		Queues:    a.Queues,
		Databases: a.Store,
		Members:   a.Members,
	}
	settings := steps.Settings{
		Roles:        cfg.Provisioning.Roles,
		AdminRoles:   cfg.Provisioning.AdminRoles,
		InviteeRoles: cfg.Provisioning.InviteeRoles,
		AuxDatabases: cfg.Provisioning.AuxDatabases,
		SigningKey:   []byte(cfg.Auth.TokenSigningKey),
		Issuer:       "provisioner",
	}
	a.Projects = project.NewService(a.Store, deps, settings, vs, a.Events, a.Metrics, project.Options{
		RollbackOnFailure:   cfg.Provisioning.RollbackOnFailure,
		EventTimeout:        cfg.EventTimeout(),
		PersonalProjectName: cfg.Provisioning.PersonalProjectName,
		PersonalPlugins:     cfg.Provisioning.PersonalPlugins,
		PersonalRoles:       cfg.Provisioning.PersonalRoles,
	})
	a.Usage = usage.NewService(a.Store, integrations.NewDefaults(cfg.Usage.AdminDefaults), a.Metrics)
	return a, nil
}

// Server returns a server with its handlers mounted.
func (a *App) Server() *server.ProvisionerServer {
	s := server.CreateNewServer(server.Deps{
		Projects: a.Projects,
		Usage:    a.Usage,
		Queues:   a.Queues,
		Members:  a.Members,
		Ready: map[string]server.ReadinessCheck{
			"database": a.DB.PingContext,
			"redis":    a.Redis.Ping,
		},
	}, server.Options{
		HandleCORS:     a.Config.Server.HandleCORS,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		RequestTimeout: a.Config.RequestTimeout(),
		Metrics:        a.Metrics,
		Gatherer:       a.Registry,
	})
	s.MountHandlers()
	return s
}

// LogEvents logs every event published on the bus until ctx is done.
func (a *App) LogEvents(ctx context.Context) {
	events, unsubscribe := a.Events.Subscribe("*", 16)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				log.Info().Str("topic", ev.Topic).Interface("data", ev.Data).Msg("event published")
			}
		}
	}()
}

func (a *App) Close() error {
	var result error
	if a.Events != nil {
		a.Events.Shutdown()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
