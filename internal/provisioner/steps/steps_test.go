package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/carrierhub/provisioner/internal/provisioner/broker"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/membership"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorld implements every dependency and records calls in order.
type fakeWorld struct {
	calls   []string
	fail    map[string]error
	secrets map[string]string
	tokens  []*models.Token
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{fail: map[string]error{}, secrets: map[string]string{}}
}

func (w *fakeWorld) hit(name string) error {
	w.calls = append(w.calls, name)
	return w.fail[name]
}

func (w *fakeWorld) CreateProject(_ context.Context, p *models.Project) error {
	if err := w.hit("CreateProject"); err != nil {
		return err
	}
	p.ID = 11
	return nil
}
func (w *fakeWorld) DeleteProject(context.Context, int64) error { return w.hit("DeleteProject") }
func (w *fakeWorld) CreateSchema(context.Context, int64) error  { return w.hit("CreateSchema") }
func (w *fakeWorld) DropSchema(context.Context, int64) error    { return w.hit("DropSchema") }
func (w *fakeWorld) CreateProjectRoles(context.Context, int64, map[string][]string) error {
	return w.hit("CreateProjectRoles")
}
func (w *fakeWorld) DropProjectRoles(context.Context, int64) error { return w.hit("DropProjectRoles") }
func (w *fakeWorld) CreateSystemUser(context.Context, int64) (int64, error) {
	return 501, w.hit("CreateSystemUser")
}
func (w *fakeWorld) DeleteUser(context.Context, int64) error { return w.hit("DeleteUser") }
func (w *fakeWorld) CreateToken(_ context.Context, t *models.Token) error {
	w.tokens = append(w.tokens, t)
	return w.hit("CreateToken")
}
func (w *fakeWorld) DeleteUserTokens(context.Context, int64) error { return w.hit("DeleteUserTokens") }
func (w *fakeWorld) Init(_ context.Context, _ int64, token string) (SecretsHandle, error) {
	if err := w.hit("InitSecrets"); err != nil {
		return nil, err
	}
	w.secrets["auth_token"] = token
	return w, nil
}
func (w *fakeWorld) Remove(context.Context, int64) error { return w.hit("RemoveSecrets") }
func (w *fakeWorld) Read(context.Context) (map[string]string, error) {
	return w.secrets, nil
}
func (w *fakeWorld) Write(_ context.Context, values map[string]string) error {
	for k, v := range values {
		w.secrets[k] = v
	}
	return w.hit("WriteSecrets")
}
func (w *fakeWorld) VhostName(int64) string { return "project_11_vhost" }
func (w *fakeWorld) CreateVhost(context.Context, int64) (*broker.Credentials, error) {
	return &broker.Credentials{Vhost: "project_11_vhost", User: "u", Password: "p"}, w.hit("CreateVhost")
}
func (w *fakeWorld) DeleteVhost(context.Context, int64) error     { return w.hit("DeleteVhost") }
func (w *fakeWorld) Forget(context.Context, string) error         { return w.hit("ForgetQueues") }
func (w *fakeWorld) CreateDatabase(context.Context, string) error { return w.hit("CreateDatabase") }
func (w *fakeWorld) DropDatabase(context.Context, string) error   { return w.hit("DropDatabase") }
func (w *fakeWorld) EnsureMembership(_ context.Context, email string, _ int64, _ []string) (membership.Result, error) {
	if err := w.hit("EnsureMembership:" + email); err != nil {
		return membership.Result{}, err
	}
	return membership.Result{Status: membership.StatusOK, Msg: "added " + email, Email: email}, nil
}

func (w *fakeWorld) deps() Deps {
	return Deps{Projects: w, Schemas: w, Roles: w, Users: w, Tokens: w, Secrets: w,
		Vhosts: w, Queues: w, Databases: w, Members: w}
}

func testSettings() Settings {
	return Settings{
		Roles:        config.DefaultRoles(),
		AdminRoles:   []string{"admin"},
		InviteeRoles: []string{"viewer"},
		SigningKey:   []byte("0123456789abcdef0123456789abcdef"),
		Issuer:       "provisioner",
	}
}

func names(list []*Step) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Name()
	}
	return out
}

func TestBuildOrder(t *testing.T) {
	w := newFakeWorld()
	list := Build(w.deps(), testSettings())
	assert.Equal(t, []string{NameProject, NameSchema, NamePermissions, NameSystemUser, NameSystemToken,
		NameSecrets, NameVhost, NameAdminMembership, NameInvitations}, names(list))

	s := testSettings()
	s.AuxDatabases = []config.AuxDatabase{{Key: "influx_db", Name: "influx_{project_id}"}}
	list = Build(w.deps(), s)
	assert.Equal(t, NameDatabases, list[7].Name())
	assert.Len(t, list, 10)

	for _, st := range list {
		assert.Equal(t, Result{Name: st.Name(), Msg: "not started"}, st.Status().Created)
		assert.Equal(t, Result{Name: st.Name(), Msg: "not started"}, st.Status().Deleted)
	}
}

func TestCreateChain(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newFakeWorld()
	s := testSettings()
	s.AuxDatabases = []config.AuxDatabase{{Key: "influx_db", Name: "influx_{project_id}"}}
	rc := &RunContext{Request: Request{Name: "demo", OwnerID: 3, AdminEmail: "a@example.com", Invitees: []string{"b@example.com"}}}

	for _, st := range Build(w.deps(), s) {
		require.NoError(t, st.Create(ctx, rc), st.Name())
		assert.True(t, st.Status().Created.OK)
	}
	assert.Equal(t, int64(11), rc.Project.ID)
	assert.Equal(t, int64(501), rc.SystemUserID)
	assert.NotEmpty(t, rc.SystemToken)
	assert.Equal(t, rc.SystemToken, w.secrets["auth_token"])
	assert.Equal(t, "project_11_vhost", w.secrets[broker.SecretVhost])
	assert.Equal(t, "influx_11", w.secrets["influx_db"])

	require.Len(t, w.tokens, 1)
	assert.Equal(t, int64(501), w.tokens[0].UserID)
	assert.Contains(t, w.tokens[0].Hash, "$argon2id$")

	assert.Equal(t, []string{"CreateProject", "CreateSchema", "CreateProjectRoles", "CreateSystemUser",
		"CreateToken", "InitSecrets", "CreateVhost", "WriteSecrets", "CreateDatabase", "WriteSecrets",
		"EnsureMembership:a@example.com", "EnsureMembership:b@example.com"}, w.calls)
}

func TestCreateFailureIsRecorded(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newFakeWorld()
	boom := errors.New("schema exists")
	w.fail["CreateSchema"] = boom

	list := Build(w.deps(), testSettings())
	rc := &RunContext{Request: Request{Name: "demo"}}
	require.NoError(t, list[0].Create(ctx, rc))
	err := list[1].Create(ctx, rc)
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Result{Name: NameSchema, OK: false, Msg: "schema exists"}, list[1].Status().Created)
}

func TestMissingInputs(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newFakeWorld()
	list := Build(w.deps(), testSettings())

	err := list[1].Create(ctx, &RunContext{})
	assert.ErrorIs(t, err, ErrMissingInput)

	rc := &RunContext{Project: &models.Project{ID: 4}}
	err = list[6].Create(ctx, rc)
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Empty(t, w.calls)
}

func TestPanicIsRecovered(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	st := New("exploding",
		func(context.Context, *RunContext) (string, error) { panic("nil map") },
		func(context.Context, *DeleteContext) (string, error) { return "ok", nil })

	err := st.Create(ctx, &RunContext{})
	assert.ErrorIs(t, err, ErrStepPanicked)
	assert.False(t, st.Status().Created.OK)
	assert.Equal(t, "nil map", st.Status().Created.Msg)
}

func TestDeleteWithoutSystemUser(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newFakeWorld()
	list := Build(w.deps(), testSettings())
	dc := &DeleteContext{ProjectID: 11}

	for _, st := range list {
		require.NoError(t, st.Delete(ctx, dc), st.Name())
		assert.True(t, st.Status().Deleted.OK)
	}
	assert.NotContains(t, w.calls, "DeleteUser")
	assert.NotContains(t, w.calls, "DeleteUserTokens")
	assert.Contains(t, w.calls, "ForgetQueues")
}

func TestDatabaseDeleteAggregatesErrors(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newFakeWorld()
	w.fail["DropDatabase"] = errors.New("in use")
	s := testSettings()
	s.AuxDatabases = []config.AuxDatabase{{Key: "a", Name: "a_{project_id}"}, {Key: "b", Name: "b_{project_id}"}}

	st := databases(w.deps(), s)
	err := st.Delete(ctx, &DeleteContext{ProjectID: 2})
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.Equal(t, []string{"DropDatabase", "DropDatabase"}, w.calls)
	assert.Contains(t, st.Status().Deleted.Msg, "2 errors occurred")
}
