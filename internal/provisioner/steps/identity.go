package steps

import (
	"context"
	"fmt"

	"github.com/carrierhub/provisioner/internal/provisioner/auth"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
)

const systemTokenName = "system"

func systemUser(d Deps) *Step {
	return New(NameSystemUser,
		func(ctx context.Context, rc *RunContext) (string, error) {
			id, err := rc.projectID()
			if err != nil {
				return "", err
			}
			userID, err := d.Users.CreateSystemUser(ctx, id)
			if err != nil {
				return "", err
			}
			rc.SystemUserID = userID
			return fmt.Sprintf("system user %d created", userID), nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			if dc.SystemUserID == 0 {
				return "no system user to delete", nil
			}
			if err := d.Users.DeleteUser(ctx, dc.SystemUserID); err != nil {
				return "", err
			}
			return fmt.Sprintf("system user %d deleted", dc.SystemUserID), nil
		})
}

func systemToken(d Deps, s Settings) *Step {
	return New(NameSystemToken,
		func(ctx context.Context, rc *RunContext) (string, error) {
			id, err := rc.projectID()
			if err != nil {
				return "", err
			}
			if rc.SystemUserID == 0 {
				return "", ErrMissingInput.Msg("system user has not been created")
			}
			tok, err := auth.IssueSystemToken(s.SigningKey, s.Issuer, rc.SystemUserID, id)
			if err != nil {
				return "", err
			}
			hash, err := auth.HashTokenID(tok.ID.String())
			if err != nil {
				return "", err
			}
			err = d.Tokens.CreateToken(ctx, &models.Token{
				UUID:   tok.ID,
				UserID: rc.SystemUserID,
				Name:   systemTokenName,
				Hash:   hash,
			})
			if err != nil {
				return "", err
			}
			rc.SystemToken = tok.Signed
			return fmt.Sprintf("token issued for system user %d", rc.SystemUserID), nil
		},
		func(ctx context.Context, dc *DeleteContext) (string, error) {
			if dc.SystemUserID == 0 {
				return "no system user tokens to delete", nil
			}
			if err := d.Tokens.DeleteUserTokens(ctx, dc.SystemUserID); err != nil {
				return "", err
			}
			return fmt.Sprintf("tokens of system user %d deleted", dc.SystemUserID), nil
		})
}
