package steps

import (
	"context"
	"strings"

	"github.com/hashicorp/go-multierror"
)

func adminMembership(d Deps, s Settings) *Step {
	return New(NameAdminMembership,
		func(ctx context.Context, rc *RunContext) (string, error) {
			id, err := rc.projectID()
			if err != nil {
				return "", err
			}
			roles := s.AdminRoles
			if len(rc.Request.AdminRoles) > 0 {
				roles = rc.Request.AdminRoles
			}
			res, err := d.Members.EnsureMembership(ctx, rc.Request.AdminEmail, id, roles)
			if err != nil {
				return "", err
			}
			return res.Msg, nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			return "memberships are removed with the project schema", nil
		})
}

func invitations(d Deps, s Settings) *Step {
	return New(NameInvitations,
		func(ctx context.Context, rc *RunContext) (string, error) {
			id, err := rc.projectID()
			if err != nil {
				return "", err
			}
			if len(rc.Request.Invitees) == 0 {
				return "no invitations", nil
			}
			var (
				msgs   []string
				result error
			)
			for _, email := range rc.Request.Invitees {
				res, err := d.Members.EnsureMembership(ctx, email, id, s.InviteeRoles)
				if err != nil {
					result = multierror.Append(result, err)
					continue
				}
				msgs = append(msgs, res.Msg)
			}
			if result != nil {
				return "", result
			}
			return strings.Join(msgs, "; "), nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			return "invitations are removed with the project schema", nil
		})
}
