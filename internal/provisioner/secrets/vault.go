// Package secrets keeps per-project secrets in HashiCorp Vault. Every project
// gets its own KV v2 mount and an ACL policy granting access to it.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

const secretsPath = "project-secrets"

// Well known keys written when a project is initialized.
const (
	KeyProjectID = "project_id"
	KeyAuthToken = "auth_token"
)

type Options struct {
	Address      string
	Token        string
	MountPrefix  string
	PolicyPrefix string
	Timeout      time.Duration
	MaxRetries   int
}

type Vault struct {
	client *api.Client
	opts   Options
}

func New(opts Options) (*Vault, error) {
	if opts.Address == "" {
		return nil, ErrInvalidConfig.Msg("vault address is required")
	}
	if opts.MountPrefix == "" {
		opts.MountPrefix = "kv-for-project-"
	}
	if opts.PolicyPrefix == "" {
		opts.PolicyPrefix = "policy-for-project-"
	}
	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, ErrInvalidConfig.Err(cfg.Error)
	}
	cfg.Address = opts.Address
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	cfg.MaxRetries = opts.MaxRetries
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, ErrInvalidConfig.Err(err)
	}
	if opts.Token != "" {
		c.SetToken(opts.Token)
	}
	return &Vault{client: c, opts: opts}, nil
}

func (v *Vault) MountName(projectID int64) string {
	return v.opts.MountPrefix + strconv.FormatInt(projectID, 10)
}

func (v *Vault) PolicyName(projectID int64) string {
	return v.opts.PolicyPrefix + strconv.FormatInt(projectID, 10)
}

func (v *Vault) policy(projectID int64) string {
	return fmt.Sprintf(`path "%s/*" {
  capabilities = ["create", "read", "update", "delete", "list"]
}
`, v.MountName(projectID))
}

// Init creates the project's mount and policy and stores the project id and
// system token. Existing mounts are reused.
func (v *Vault) Init(ctx context.Context, projectID int64, systemToken string) (*Handle, error) {
	mount := v.MountName(projectID)
	err := v.client.Sys().MountWithContext(ctx, mount, &api.MountInput{
		Type:        "kv",
		Description: fmt.Sprintf("secrets of project %d", projectID),
		Options:     map[string]string{"version": "2"},
	})
	if err != nil {
		if !isAlreadyMounted(err) {
			log.Ctx(ctx).Error().Err(err).Str("mount", mount).Msg("failed to mount secrets engine")
			return nil, ErrMountFailed.Err(err)
		}
		log.Ctx(ctx).Info().Str("mount", mount).Msg("secrets engine already mounted")
	}
	if err := v.client.Sys().PutPolicyWithContext(ctx, v.PolicyName(projectID), v.policy(projectID)); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Msg("failed to write policy")
		return nil, ErrPolicyFailed.Err(err)
	}
	h := v.FromProject(projectID)
	err = h.Write(ctx, map[string]string{
		KeyProjectID: strconv.FormatInt(projectID, 10),
		KeyAuthToken: systemToken,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Remove unmounts the project's secrets engine and deletes its policy.
// Missing mounts are not an error.
func (v *Vault) Remove(ctx context.Context, projectID int64) error {
	mount := v.MountName(projectID)
	if err := v.client.Sys().UnmountWithContext(ctx, mount); err != nil && !isNotMounted(err) {
		log.Ctx(ctx).Error().Err(err).Str("mount", mount).Msg("failed to unmount secrets engine")
		return ErrRemoveFailed.Err(err)
	}
	if err := v.client.Sys().DeletePolicyWithContext(ctx, v.PolicyName(projectID)); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("project_id", projectID).Msg("failed to delete policy")
		return ErrRemoveFailed.Err(err)
	}
	return nil
}

// FromProject returns a handle for an already initialized project.
func (v *Vault) FromProject(projectID int64) *Handle {
	return &Handle{vault: v, ProjectID: projectID}
}

// Handle reads and writes the secrets of one project.
type Handle struct {
	vault     *Vault
	ProjectID int64
}

func (h *Handle) path() string {
	return h.vault.MountName(h.ProjectID) + "/data/" + secretsPath
}

func (h *Handle) Read(ctx context.Context) (map[string]string, error) {
	s, err := h.vault.client.Logical().ReadWithContext(ctx, h.path())
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("project_id", h.ProjectID).Msg("failed to read secrets")
		return nil, ErrReadFailed.Err(err)
	}
	out := make(map[string]string)
	if s == nil || s.Data == nil {
		return out, nil
	}
	data, ok := s.Data["data"].(map[string]any)
	if !ok {
		return out, nil
	}
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

// Write merges values into the project's secrets.
func (h *Handle) Write(ctx context.Context, values map[string]string) error {
	current, err := h.Read(ctx)
	if err != nil {
		return err
	}
	data := make(map[string]any, len(current)+len(values))
	for k, v := range current {
		data[k] = v
	}
	for k, v := range values {
		data[k] = v
	}
	if _, err := h.vault.client.Logical().WriteWithContext(ctx, h.path(), map[string]any{"data": data}); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("project_id", h.ProjectID).Msg("failed to write secrets")
		return ErrWriteFailed.Err(err)
	}
	return nil
}

func responseError(err error) (*api.ResponseError, bool) {
	var re *api.ResponseError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func responseMentions(err error, text string) bool {
	re, ok := responseError(err)
	if !ok {
		return false
	}
	for _, e := range re.Errors {
		if strings.Contains(e, text) {
			return true
		}
	}
	return false
}

func isAlreadyMounted(err error) bool {
	return responseMentions(err, "path is already in use")
}

func isNotMounted(err error) bool {
	re, ok := responseError(err)
	if ok && re.StatusCode == http.StatusNotFound {
		return true
	}
	return responseMentions(err, "no matching mount")
}
