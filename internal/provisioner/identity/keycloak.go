// Package identity creates users in Keycloak through its admin REST API.
package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path"

	"github.com/carrierhub/provisioner/internal/common/httpclient"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

type Options struct {
	URL          string
	AdminRealm   string
	ClientID     string
	ClientSecret string
	Realm        string
	InsecureTLS  bool
}

func (o Options) GetServerURL() string {
	return o.URL
}

func (o Options) GetBasicAuth() (string, string) {
	return "", ""
}

type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// UserRepresentation is the Keycloak user entity accepted by the admin API.
type UserRepresentation struct {
	Username        string       `json:"username"`
	Email           string       `json:"email"`
	Enabled         bool         `json:"enabled"`
	EmailVerified   bool         `json:"emailVerified"`
	Credentials     []Credential `json:"credentials,omitempty"`
	RequiredActions []string     `json:"requiredActions,omitempty"`
}

// UserLister lists the users already known locally.
type UserLister interface {
	ListUsers(ctx context.Context) ([]models.User, error)
}

type Keycloak struct {
	client httpclient.HTTPClientInterface
	opts   Options
	users  UserLister
}

func NewKeycloak(opts Options, users UserLister, clientOpts ...httpclient.ClientOptions) *Keycloak {
	if opts.AdminRealm == "" {
		opts.AdminRealm = "master"
	}
	var co httpclient.ClientOptions
	if len(clientOpts) > 0 {
		co = clientOpts[0]
	}
	co.DisableCertValidation = co.DisableCertValidation || opts.InsecureTLS
	return &Keycloak{client: httpclient.NewClient(opts, co), opts: opts, users: users}
}

func (k *Keycloak) Realm() string {
	return k.opts.Realm
}

// ListUsers returns the local mirror of provider users. Membership is keyed
// on local ids, so the provider itself is not queried.
func (k *Keycloak) ListUsers(ctx context.Context) ([]models.User, error) {
	return k.users.ListUsers(ctx)
}

// GetToken obtains an admin access token with the client credentials grant.
func (k *Keycloak) GetToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", k.opts.ClientID)
	form.Set("client_secret", k.opts.ClientSecret)

	body, _, err := k.client.DoRequest(ctx, httpclient.RequestOptions{
		Method: http.MethodPost,
		Path:   path.Join("/realms", url.PathEscape(k.opts.AdminRealm), "protocol/openid-connect/token"),
		Form:   form,
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to get admin token")
		return "", ErrTokenRequest.Err(err)
	}
	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", ErrTokenRequest.Msg("token response carries no access_token")
	}
	return token, nil
}

// CreateUserRepresentation builds an enabled user with a temporary password
// that must be changed on first login.
func (k *Keycloak) CreateUserRepresentation(email, password string) UserRepresentation {
	return UserRepresentation{
		Username: email,
		Email:    email,
		Enabled:  true,
		Credentials: []Credential{
			{Type: "password", Value: password, Temporary: true},
		},
		RequiredActions: []string{"UPDATE_PASSWORD"},
	}
}

// PostUser creates user in realm and returns its provider id. A user that
// already exists is not an error; the returned id is then empty.
func (k *Keycloak) PostUser(ctx context.Context, realm, token string, user UserRepresentation) (string, error) {
	body, err := json.Marshal(user)
	if err != nil {
		return "", ErrCreateUser.Err(err)
	}
	_, location, err := k.client.DoRequest(ctx, httpclient.RequestOptions{
		Method:      http.MethodPost,
		Path:        path.Join("/admin/realms", url.PathEscape(realm), "users"),
		Body:        body,
		BearerToken: token,
	})
	if err != nil {
		if httpclient.StatusCode(err) == http.StatusConflict {
			log.Ctx(ctx).Info().Str("email", user.Email).Msg("user already exists in identity provider")
			return "", nil
		}
		log.Ctx(ctx).Error().Err(err).Str("email", user.Email).Msg("failed to create user")
		return "", ErrCreateUser.Err(err)
	}
	if location == "" {
		return "", nil
	}
	return path.Base(location), nil
}
