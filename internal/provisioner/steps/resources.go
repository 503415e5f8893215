package steps

import (
	"context"
	"fmt"

	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/hashicorp/go-multierror"
)

func projectSecrets(d Deps) *Step {
	return New(NameSecrets,
		func(ctx context.Context, rc *RunContext) (string, error) {
			id, err := rc.projectID()
			if err != nil {
				return "", err
			}
			if rc.SystemToken == "" {
				return "", ErrMissingInput.Msg("system token has not been issued")
			}
			h, err := d.Secrets.Init(ctx, id, rc.SystemToken)
			if err != nil {
				return "", err
			}
			rc.Secrets = h
			return fmt.Sprintf("secrets of project %d initialized", id), nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			if err := d.Secrets.Remove(ctx, dc.ProjectID); err != nil {
				return "", err
			}
			return fmt.Sprintf("secrets of project %d removed", dc.ProjectID), nil
		})
}

func vhost(d Deps) *Step {
	return New(NameVhost,
		func(ctx context.Context, rc *RunContext) (string, error) {
			id, err := rc.projectID()
			if err != nil {
				return "", err
			}
			if rc.Secrets == nil {
				return "", ErrMissingInput.Msg("secrets are not initialized")
			}
			creds, err := d.Vhosts.CreateVhost(ctx, id)
			if err != nil {
				return "", err
			}
			if err := rc.Secrets.Write(ctx, creds.Secrets()); err != nil {
				return "", err
			}
			return fmt.Sprintf("vhost %s created", creds.Vhost), nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			name := d.Vhosts.VhostName(dc.ProjectID)
			if err := d.Vhosts.DeleteVhost(ctx, dc.ProjectID); err != nil {
				return "", err
			}
			if d.Queues != nil {
				if err := d.Queues.Forget(ctx, name); err != nil {
					return "", err
				}
			}
			return fmt.Sprintf("vhost %s deleted", name), nil
		})
}

func databases(d Deps, s Settings) *Step {
	return New(NameDatabases,
		func(ctx context.Context, rc *RunContext) (string, error) {
			id, err := rc.projectID()
			if err != nil {
				return "", err
			}
			if rc.Secrets == nil {
				return "", ErrMissingInput.Msg("secrets are not initialized")
			}
			names := make(map[string]string, len(s.AuxDatabases))
			for _, db := range s.AuxDatabases {
				name := config.ExpandID(db.Name, "project_id", id)
				if err := d.Databases.CreateDatabase(ctx, name); err != nil {
					return "", err
				}
				names[db.Key] = name
			}
			if err := rc.Secrets.Write(ctx, names); err != nil {
				return "", err
			}
			return fmt.Sprintf("%d databases created", len(names)), nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			var result error
			for _, db := range s.AuxDatabases {
				name := config.ExpandID(db.Name, "project_id", dc.ProjectID)
				if err := d.Databases.DropDatabase(ctx, name); err != nil {
					result = multierror.Append(result, err)
				}
			}
			if result != nil {
				return "", result
			}
			return fmt.Sprintf("%d databases dropped", len(s.AuxDatabases)), nil
		})
}
