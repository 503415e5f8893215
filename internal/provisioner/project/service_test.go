package project

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/carrierhub/provisioner/internal/common/eventbus"
	"github.com/carrierhub/provisioner/internal/provisioner/broker"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/db/dberror"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/membership"
	"github.com/carrierhub/provisioner/internal/provisioner/steps"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// world fakes every subsystem. Resources are tracked so that repeated
// deletes behave like the real, idempotent ones.
type world struct {
	mu         sync.Mutex
	nextID     int64
	projects   map[int64]*models.Project
	schemas    map[int64]bool
	sysUsers   map[int64]int64
	vhosts     map[int64]bool
	secrets    map[int64]map[string]string
	members    map[int64]map[int64]bool
	fail       map[string]error
	onCall     map[string]func()
	calls      []string
	recorded   []string
	memberMsgs []string
}

func newWorld() *world {
	return &world{
		nextID:   10,
		projects: map[int64]*models.Project{},
		schemas:  map[int64]bool{},
		sysUsers: map[int64]int64{},
		vhosts:   map[int64]bool{},
		secrets:  map[int64]map[string]string{},
		members:  map[int64]map[int64]bool{},
		fail:     map[string]error{},
		onCall:   map[string]func(){},
	}
}

func (w *world) hit(name string) error {
	w.mu.Lock()
	w.calls = append(w.calls, name)
	err, hook := w.fail[name], w.onCall[name]
	w.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// live is hit for collaborators that, like database/sql and the HTTP
// clients, refuse to work on a done context.
func (w *world) live(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		w.hit(name)
		return err
	}
	return w.hit(name)
}

func (w *world) CreateProject(ctx context.Context, p *models.Project) error {
	if err := w.live(ctx, "CreateProject"); err != nil {
		return err
	}
	w.nextID++
	p.ID = w.nextID
	cp := *p
	w.projects[p.ID] = &cp
	return nil
}

func (w *world) DeleteProject(ctx context.Context, id int64) error {
	if err := w.live(ctx, "DeleteProject"); err != nil {
		return err
	}
	delete(w.projects, id)
	return nil
}

func (w *world) GetProject(_ context.Context, id int64) (*models.Project, error) {
	p, ok := w.projects[id]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("missing")
	}
	cp := *p
	return &cp, nil
}

func (w *world) FindProjectByName(_ context.Context, name string) (*models.Project, error) {
	for _, p := range w.projects {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("missing")
}

func (w *world) ListProjects(_ context.Context, _ models.ListOptions) ([]models.Project, error) {
	out := []models.Project{}
	for id := int64(0); id <= w.nextID; id++ {
		if p, ok := w.projects[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (w *world) UpdateProject(_ context.Context, id int64, upd models.ProjectUpdate) (*models.Project, error) {
	p, ok := w.projects[id]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("missing")
	}
	if upd.Name != "" {
		p.Name = upd.Name
	}
	return p, nil
}

func (w *world) GetProjectSystemUser(_ context.Context, id int64) (int64, error) {
	u, ok := w.sysUsers[id]
	if !ok {
		return 0, dberror.ErrNotFound.Msg("missing")
	}
	return u, nil
}

func (w *world) CheckUserInProject(_ context.Context, projectID, userID int64) (bool, error) {
	return w.members[projectID][userID], nil
}

func (w *world) CreateSchema(ctx context.Context, id int64) error {
	if err := w.live(ctx, "CreateSchema"); err != nil {
		return err
	}
	w.schemas[id] = true
	return nil
}

func (w *world) DropSchema(ctx context.Context, id int64) error {
	if err := w.live(ctx, "DropSchema"); err != nil {
		return err
	}
	delete(w.schemas, id)
	return nil
}

func (w *world) CreateProjectRoles(context.Context, int64, map[string][]string) error {
	return w.hit("CreateProjectRoles")
}

func (w *world) DropProjectRoles(context.Context, int64) error {
	return w.hit("DropProjectRoles")
}

func (w *world) CreateSystemUser(_ context.Context, id int64) (int64, error) {
	if err := w.hit("CreateSystemUser"); err != nil {
		return 0, err
	}
	w.sysUsers[id] = 1000 + id
	return 1000 + id, nil
}

func (w *world) DeleteUser(_ context.Context, userID int64) error {
	if err := w.hit("DeleteUser"); err != nil {
		return err
	}
	delete(w.sysUsers, userID-1000)
	return nil
}

func (w *world) CreateToken(context.Context, *models.Token) error { return w.hit("CreateToken") }
func (w *world) DeleteUserTokens(context.Context, int64) error    { return w.hit("DeleteUserTokens") }

type handle struct {
	w  *world
	id int64
}

func (h handle) Read(context.Context) (map[string]string, error) {
	return h.w.secrets[h.id], nil
}

func (h handle) Write(_ context.Context, values map[string]string) error {
	if h.w.secrets[h.id] == nil {
		h.w.secrets[h.id] = map[string]string{}
	}
	for k, v := range values {
		h.w.secrets[h.id][k] = v
	}
	return nil
}

func (w *world) Init(ctx context.Context, id int64, token string) (steps.SecretsHandle, error) {
	if err := w.live(ctx, "InitSecrets"); err != nil {
		return nil, err
	}
	h := handle{w: w, id: id}
	return h, h.Write(context.Background(), map[string]string{"auth_token": token})
}

func (w *world) Remove(ctx context.Context, id int64) error {
	if err := w.live(ctx, "RemoveSecrets"); err != nil {
		return err
	}
	delete(w.secrets, id)
	return nil
}

func (w *world) FromProject(id int64) steps.SecretsHandle { return handle{w: w, id: id} }

func (w *world) VhostName(id int64) string { return fmt.Sprintf("project_%d_vhost", id) }

func (w *world) CreateVhost(ctx context.Context, id int64) (*broker.Credentials, error) {
	if err := w.live(ctx, "CreateVhost"); err != nil {
		return nil, err
	}
	w.vhosts[id] = true
	return &broker.Credentials{Vhost: w.VhostName(id), User: "u", Password: "p"}, nil
}

func (w *world) DeleteVhost(ctx context.Context, id int64) error {
	if err := w.live(ctx, "DeleteVhost"); err != nil {
		return err
	}
	delete(w.vhosts, id)
	return nil
}

func (w *world) Forget(context.Context, string) error { return w.hit("ForgetQueues") }

func (w *world) EnsureMembership(_ context.Context, email string, projectID int64, _ []string) (membership.Result, error) {
	if err := w.hit("EnsureMembership"); err != nil {
		return membership.Result{}, err
	}
	w.memberMsgs = append(w.memberMsgs, email)
	if w.members[projectID] == nil {
		w.members[projectID] = map[int64]bool{}
	}
	w.members[projectID][1] = true
	return membership.Result{Status: membership.StatusOK, Msg: "user " + email + " added", Email: email}, nil
}

func (w *world) StepResult(step, phase string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recorded = append(w.recorded, fmt.Sprintf("%s/%s/%t", step, phase, ok))
}

func (w *world) service(opts Options, events Publisher) *Service {
	deps := steps.Deps{Projects: w, Schemas: w, Roles: w, Users: w, Tokens: w, Secrets: w,
		Vhosts: w, Queues: w, Members: w}
	settings := steps.Settings{
		Roles:        config.DefaultRoles(),
		AdminRoles:   []string{"admin"},
		InviteeRoles: []string{"viewer"},
		SigningKey:   []byte("0123456789abcdef0123456789abcdef"),
		Issuer:       "provisioner",
	}
	return NewService(w, deps, settings, w, events, w, opts)
}

func validRequest() CreateRequest {
	return CreateRequest{Name: "demo", ProjectAdminEmail: "admin@example.com", Plugins: []string{"configuration"}}
}

func TestCreateProjectSuccess(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	bus := eventbus.New()
	defer bus.Shutdown()
	events, unsubscribe := bus.Subscribe(EventProjectCreated, 1)
	defer unsubscribe()

	out, err := w.service(Options{}, bus).CreateProject(ctx, 3, validRequest())
	require.NoError(t, err)
	assert.False(t, out.Failed)
	require.Len(t, out.Steps, 9)
	for _, r := range out.Steps {
		assert.True(t, r.OK, r.Name)
	}
	require.NotNil(t, out.Project)
	assert.Equal(t, int64(3), out.Project.Owner)
	assert.Equal(t, "project_11_vhost", w.secrets[11][broker.SecretVhost])
	assert.NotEmpty(t, w.secrets[11]["auth_token"])

	select {
	case ev := <-events:
		p, ok := ev.Data.(models.Project)
		require.True(t, ok)
		assert.Equal(t, out.Project.ID, p.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("project_created was not published")
	}
}

func TestCreateProjectInvalidRequest(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	svc := w.service(Options{}, nil)

	bad := []CreateRequest{
		{ProjectAdminEmail: "a@example.com"},
		{Name: "demo"},
		{Name: "demo", ProjectAdminEmail: "not-an-email"},
		{Name: "demo", ProjectAdminEmail: "a@example.com", Plugins: []string{"x", "x"}},
		{Name: "demo", ProjectAdminEmail: "a@example.com", Invitees: []string{"nope"}},
	}
	for i, req := range bad {
		out, err := svc.CreateProject(ctx, 1, req)
		assert.Nil(t, out, "case %d", i)
		assert.ErrorIs(t, err, ErrInvalidRequest, "case %d", i)
	}
	assert.Empty(t, w.calls)
}

func TestCreateProjectStopsAtFailure(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	w.fail["CreateVhost"] = errors.New("broker down")

	bus := eventbus.New()
	defer bus.Shutdown()
	events, unsubscribe := bus.Subscribe(EventProjectCreated, 1)
	defer unsubscribe()

	out, err := w.service(Options{}, bus).CreateProject(ctx, 3, validRequest())
	require.NoError(t, err)
	assert.True(t, out.Failed)
	// project, schema, permissions, system user, token, secrets and the failed vhost
	require.Len(t, out.Steps, 7)
	last := out.Steps[6]
	assert.Equal(t, steps.NameVhost, last.Name)
	assert.False(t, last.OK)
	assert.Contains(t, last.Msg, "broker down")
	assert.NotContains(t, w.calls, "EnsureMembership")
	assert.Empty(t, out.Rollback)
	assert.True(t, w.schemas[11], "no automatic rollback")

	select {
	case <-events:
		t.Fatal("event published for a failed creation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreateProjectRollback(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	w.fail["EnsureMembership"] = errors.New("keycloak down")

	out, err := w.service(Options{RollbackOnFailure: true}, nil).CreateProject(ctx, 3, validRequest())
	require.NoError(t, err)
	assert.True(t, out.Failed)
	require.Len(t, out.Steps, 8)
	require.Len(t, out.Rollback, 8)
	assert.Equal(t, steps.NameAdminMembership, out.Rollback[0].Name)
	assert.Equal(t, steps.NameProject, out.Rollback[7].Name)
	assert.Empty(t, w.projects)
	assert.Empty(t, w.schemas)
	assert.Empty(t, w.vhosts)
	assert.Empty(t, w.sysUsers)
}

func TestCreateProjectFirstStepFails(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	w.fail["CreateProject"] = errors.New("db down")

	out, err := w.service(Options{RollbackOnFailure: true}, nil).CreateProject(ctx, 3, validRequest())
	require.NoError(t, err)
	assert.True(t, out.Failed)
	require.Len(t, out.Steps, 1)
	assert.Empty(t, out.Rollback)
	assert.Equal(t, []string{"project/create/false"}, w.recorded)
}

func TestDeleteProject(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	svc := w.service(Options{}, nil)
	out, err := svc.CreateProject(ctx, 3, validRequest())
	require.NoError(t, err)
	id := out.Project.ID

	w.fail["DeleteVhost"] = errors.New("broker down")
	del, err := svc.DeleteProject(ctx, id)
	require.NoError(t, err)
	require.Len(t, del.Steps, 9)
	assert.Equal(t, steps.NameInvitations, del.Steps[0].Name)
	assert.Equal(t, steps.NameProject, del.Steps[8].Name)
	failed := 0
	for _, r := range del.Steps {
		if !r.OK {
			failed++
			assert.Equal(t, steps.NameVhost, r.Name)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Contains(t, w.calls, "DeleteUser")
	assert.Empty(t, w.projects)
	assert.Empty(t, w.schemas)

	again, err := svc.DeleteProject(ctx, id)
	require.NoError(t, err)
	assert.Len(t, again.Steps, 9)
	assert.Nil(t, again.Project)
}

func TestDeleteProjectSurvivesCallerCancel(t *testing.T) {
	w := newWorld()
	svc := w.service(Options{}, nil)
	out, err := svc.CreateProject(log.Logger.WithContext(context.Background()), 3, validRequest())
	require.NoError(t, err)
	id := out.Project.ID

	ctx, cancel := context.WithCancel(log.Logger.WithContext(context.Background()))
	defer cancel()
	w.onCall["DeleteVhost"] = cancel

	del, err := svc.DeleteProject(ctx, id)
	require.NoError(t, err)
	require.Len(t, del.Steps, 9)
	for _, r := range del.Steps {
		assert.True(t, r.OK, "%s: %s", r.Name, r.Msg)
	}
	assert.Error(t, ctx.Err())
	assert.Empty(t, w.vhosts)
	assert.Empty(t, w.secrets)
	assert.Empty(t, w.schemas)
	assert.Empty(t, w.projects)
}

func TestCreateProjectSurvivesCallerCancel(t *testing.T) {
	w := newWorld()
	svc := w.service(Options{}, nil)
	ctx, cancel := context.WithCancel(log.Logger.WithContext(context.Background()))
	defer cancel()
	w.onCall["CreateSchema"] = cancel

	out, err := svc.CreateProject(ctx, 3, validRequest())
	require.NoError(t, err)
	assert.False(t, out.Failed)
	require.Len(t, out.Steps, 9)
	assert.True(t, w.vhosts[out.Project.ID])
	assert.True(t, w.schemas[out.Project.ID])
}

func TestDeleteProjectTwice(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	svc := w.service(Options{}, nil)
	w.projects[5] = &models.Project{ID: 5, Name: "half-made"}
	w.fail["DeleteProject"] = errors.New("locked")

	for i := 0; i < 2; i++ {
		del, err := svc.DeleteProject(ctx, 5)
		require.NoError(t, err)
		assert.Len(t, del.Steps, 9)
	}
	assert.NotContains(t, w.calls, "DeleteUser")
}

func TestGetAndUpdateProject(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	svc := w.service(Options{}, nil)
	w.projects[4] = &models.Project{ID: 4, Name: "before"}

	p, err := svc.UpdateProject(ctx, 4, models.ProjectUpdate{Name: "after"})
	require.NoError(t, err)
	assert.Equal(t, "after", p.Name)

	_, err = svc.GetProject(ctx, 99)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = svc.UpdateProject(ctx, 99, models.ProjectUpdate{Name: "x"})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestListUserProjects(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	svc := w.service(Options{}, nil)
	for id := int64(1); id <= 5; id++ {
		w.projects[id] = &models.Project{ID: id, Name: fmt.Sprintf("p%d", id)}
	}
	w.members[2] = map[int64]bool{7: true}
	w.members[3] = map[int64]bool{7: true}
	w.members[5] = map[int64]bool{7: true}

	all, err := svc.ListUserProjects(ctx, 7, models.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	page, err := svc.ListUserProjects(ctx, 7, models.ListOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(3), page[0].ID)

	none, err := svc.ListUserProjects(ctx, 8, models.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreatePersonalProject(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	w := newWorld()
	svc := w.service(Options{PersonalPlugins: []string{"configuration", "models"}, PersonalRoles: []string{"editor", "viewer"}}, nil)

	svc.CreatePersonalProject(ctx, 42, "me@example.com")
	p, err := w.FindProjectByName(ctx, "personal_project_42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.Owner)
	assert.Equal(t, []string{"configuration", "models"}, p.Plugins)

	calls := len(w.calls)
	svc.CreatePersonalProject(ctx, 42, "me@example.com")
	assert.Len(t, w.calls, calls)
}
