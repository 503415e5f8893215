package steps

import (
	"context"
	"fmt"

	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
)

func projectRecord(d Deps) *Step {
	return New(NameProject,
		func(ctx context.Context, rc *RunContext) (string, error) {
			p := &models.Project{
				Name:    rc.Request.Name,
				Owner:   rc.Request.OwnerID,
				Plugins: rc.Request.Plugins,
			}
			if err := d.Projects.CreateProject(ctx, p); err != nil {
				return "", err
			}
			rc.Project = p
			return fmt.Sprintf("project %s created with id %d", p.Name, p.ID), nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			if err := d.Projects.DeleteProject(ctx, dc.ProjectID); err != nil {
				return "", err
			}
			return fmt.Sprintf("project %d deleted", dc.ProjectID), nil
		})
}

func schema(d Deps) *Step {
	return New(NameSchema,
		func(ctx context.Context, rc *RunContext) (string, error) {
			id, err := rc.projectID()
			if err != nil {
				return "", err
			}
			if err := d.Schemas.CreateSchema(ctx, id); err != nil {
				return "", err
			}
			return fmt.Sprintf("schema of project %d created", id), nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			if err := d.Schemas.DropSchema(ctx, dc.ProjectID); err != nil {
				return "", err
			}
			return fmt.Sprintf("schema of project %d dropped", dc.ProjectID), nil
		})
}

func permissions(d Deps, s Settings) *Step {
	return New(NamePermissions,
		func(ctx context.Context, rc *RunContext) (string, error) {
			id, err := rc.projectID()
			if err != nil {
				return "", err
			}
			if err := d.Roles.CreateProjectRoles(ctx, id, s.Roles); err != nil {
				return "", err
			}
			return fmt.Sprintf("%d roles installed", len(s.Roles)), nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			if err := d.Roles.DropProjectRoles(ctx, dc.ProjectID); err != nil {
				return "", err
			}
			return "roles removed", nil
		})
}
