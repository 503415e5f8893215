// Package broker manages per-project RabbitMQ vhosts and the registry of
// queues declared in them.
package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/carrierhub/provisioner/internal/common"
	"github.com/carrierhub/provisioner/internal/common/httpclient"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/rs/zerolog/log"
)

// Secret keys under which vhost credentials are stored.
const (
	SecretUser     = "rabbit_project_user"
	SecretPassword = "rabbit_project_password"
	SecretVhost    = "rabbit_project_vhost"
)

type RabbitOptions struct {
	ManagementURL string
	User          string
	Password      string
	VhostTemplate string
	UserTemplate  string
	InsecureTLS   bool
}

func (o RabbitOptions) GetServerURL() string {
	return o.ManagementURL
}

func (o RabbitOptions) GetBasicAuth() (string, string) {
	return o.User, o.Password
}

// Credentials give a project's services access to its vhost.
type Credentials struct {
	Vhost    string
	User     string
	Password string
}

func (c Credentials) Secrets() map[string]string {
	return map[string]string{
		SecretUser:     c.User,
		SecretPassword: c.Password,
		SecretVhost:    c.Vhost,
	}
}

// RabbitAdmin talks to the RabbitMQ management API.
type RabbitAdmin struct {
	client httpclient.HTTPClientInterface
	opts   RabbitOptions
}

func NewRabbitAdmin(opts RabbitOptions, clientOpts ...httpclient.ClientOptions) *RabbitAdmin {
	if opts.VhostTemplate == "" {
		opts.VhostTemplate = "project_{project_id}_vhost"
	}
	if opts.UserTemplate == "" {
		opts.UserTemplate = "rabbit_user_{project_id}"
	}
	var co httpclient.ClientOptions
	if len(clientOpts) > 0 {
		co = clientOpts[0]
	}
	co.DisableCertValidation = co.DisableCertValidation || opts.InsecureTLS
	return &RabbitAdmin{client: httpclient.NewClient(opts, co), opts: opts}
}

func (r *RabbitAdmin) VhostName(projectID int64) string {
	return config.ExpandID(r.opts.VhostTemplate, "project_id", projectID)
}

func (r *RabbitAdmin) UserName(projectID int64) string {
	return config.ExpandID(r.opts.UserTemplate, "project_id", projectID)
}

func (r *RabbitAdmin) put(ctx context.Context, path string, body any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return err
		}
	}
	_, _, err := r.client.DoRequest(ctx, httpclient.RequestOptions{Method: http.MethodPut, Path: path, Body: raw})
	return err
}

func (r *RabbitAdmin) delete(ctx context.Context, path string) error {
	_, _, err := r.client.DoRequest(ctx, httpclient.RequestOptions{Method: http.MethodDelete, Path: path})
	if httpclient.StatusCode(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// CreateVhost creates the project vhost and a user with full permissions on
// it. A new password is generated on every call.
func (r *RabbitAdmin) CreateVhost(ctx context.Context, projectID int64) (*Credentials, error) {
	password, err := common.GeneratePassword(common.DefaultPasswordLength)
	if err != nil {
		return nil, ErrVhostCreate.Err(err)
	}
	creds := &Credentials{Vhost: r.VhostName(projectID), User: r.UserName(projectID), Password: password}
	vhost := url.PathEscape(creds.Vhost)
	user := url.PathEscape(creds.User)

	if err := r.put(ctx, "/api/vhosts/"+vhost, nil); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("vhost", creds.Vhost).Msg("failed to create vhost")
		return nil, ErrVhostCreate.Err(err)
	}
	if err := r.put(ctx, "/api/users/"+user, map[string]string{"password": creds.Password, "tags": ""}); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("user", creds.User).Msg("failed to create vhost user")
		return nil, ErrVhostCreate.Err(err)
	}
	perms := map[string]string{"configure": ".*", "write": ".*", "read": ".*"}
	if err := r.put(ctx, "/api/permissions/"+vhost+"/"+user, perms); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("vhost", creds.Vhost).Msg("failed to grant vhost permissions")
		return nil, ErrVhostCreate.Err(err)
	}
	log.Ctx(ctx).Info().Str("vhost", creds.Vhost).Int64("project_id", projectID).Msg("vhost created")
	return creds, nil
}

// DeleteVhost removes the project vhost and its user. Missing ones are ignored.
func (r *RabbitAdmin) DeleteVhost(ctx context.Context, projectID int64) error {
	if err := r.delete(ctx, "/api/vhosts/"+url.PathEscape(r.VhostName(projectID))); err != nil {
		return ErrVhostDelete.Err(err)
	}
	if err := r.delete(ctx, "/api/users/"+url.PathEscape(r.UserName(projectID))); err != nil {
		return ErrVhostDelete.Err(err)
	}
	return nil
}
