package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/db/models"
	"github.com/carrierhub/provisioner/internal/provisioner/metrics"
	"github.com/carrierhub/provisioner/internal/provisioner/project"
	"github.com/carrierhub/provisioner/internal/provisioner/steps"
	"github.com/carrierhub/provisioner/internal/provisioner/usage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeProjects struct {
	failCreate    bool
	lastOwner     int64
	lastOpts      models.ListOptions
	personalEmail string
}

func (f *fakeProjects) CreateProject(_ context.Context, ownerID int64, req project.CreateRequest) (*project.Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.lastOwner = ownerID
	out := &project.Outcome{
		Steps:   []steps.Result{{Name: steps.NameProject, OK: true, Msg: "created"}},
		Project: &models.Project{ID: 12, Name: req.Name, Owner: ownerID},
	}
	if f.failCreate {
		out.Steps = append(out.Steps, steps.Result{Name: steps.NameSchema, OK: false, Msg: "boom"})
		out.Failed = true
	}
	return out, nil
}

func (f *fakeProjects) DeleteProject(_ context.Context, projectID int64) (*project.Outcome, error) {
	return &project.Outcome{Steps: []steps.Result{
		{Name: steps.NameSchema, OK: false, Msg: "schema missing"},
		{Name: steps.NameProject, OK: true, Msg: "deleted"},
	}}, nil
}

func (f *fakeProjects) GetProject(_ context.Context, projectID int64) (*models.Project, error) {
	if projectID != 12 {
		return nil, project.ErrProjectNotFound.Msg("project not found")
	}
	return &models.Project{ID: 12, Name: "demo"}, nil
}

func (f *fakeProjects) UpdateProject(_ context.Context, projectID int64, upd models.ProjectUpdate) (*models.Project, error) {
	return &models.Project{ID: projectID, Name: upd.Name}, nil
}

func (f *fakeProjects) ListUserProjects(_ context.Context, userID int64, opts models.ListOptions) ([]models.Project, error) {
	f.lastOpts = opts
	return []models.Project{{ID: 1, Name: "a"}}, nil
}

func (f *fakeProjects) CreatePersonalProject(_ context.Context, userID int64, email string) {
	f.lastOwner = userID
	f.personalEmail = email
}

type fakeUsage struct {
	lastFilter models.UsageFilter
	lastType   string
}

func (f *fakeUsage) RecordTestStart(_ context.Context, _ []byte, testType string) (*models.TestUsage, error) {
	f.lastType = testType
	return &models.TestUsage{ID: 1, TestType: testType}, nil
}

func (f *fakeUsage) AppendTestUsage(_ context.Context, delta []byte) (*models.TestUsage, error) {
	if gjson.GetBytes(delta, "report_id").Int() != 5 {
		return nil, usage.ErrUsageNotFound.Msg("missing")
	}
	return &models.TestUsage{ID: 1, Duration: 10}, nil
}

func (f *fakeUsage) RecordTaskStart(context.Context, []byte) (*models.TaskUsage, error) {
	return &models.TaskUsage{ID: 2}, nil
}

func (f *fakeUsage) AppendTaskUsage(context.Context, []byte) (*models.TaskUsage, error) {
	return &models.TaskUsage{ID: 2, Duration: 3}, nil
}

func (f *fakeUsage) QueryTestUsage(_ context.Context, filter models.UsageFilter) (*usage.TestStatistics, error) {
	f.lastFilter = filter
	return &usage.TestStatistics{Total: 1, Rows: []usage.TestStat{{ID: 1, CPUUsage: 60, MemoryUsage: 120}}}, nil
}

func (f *fakeUsage) QueryTaskUsage(_ context.Context, filter models.UsageFilter) (*usage.TaskStatistics, error) {
	f.lastFilter = filter
	return &usage.TaskStatistics{Rows: []usage.TaskStat{}}, nil
}

type fakeQueues struct{}

func (fakeQueues) RegisterQueue(_ context.Context, vhost, queue string) (string, error) {
	return "Queue with name " + queue + " registered", nil
}

func (fakeQueues) GetQueues(_ context.Context, vhost string, removeInternal bool) ([]string, error) {
	if removeInternal {
		return []string{"a"}, nil
	}
	return []string{"a", "__internal"}, nil
}

type fakeMembers struct{}

func (fakeMembers) Members(context.Context, int64) ([]models.ProjectUser, error) {
	return []models.ProjectUser{{UserID: 4, Roles: []string{"admin"}}}, nil
}

type testEnv struct {
	server   *ProvisionerServer
	projects *fakeProjects
	usage    *fakeUsage
	dbErr    error
}

func newTestEnv() *testEnv {
	env := &testEnv{projects: &fakeProjects{}, usage: &fakeUsage{}}
	reg := prometheus.NewRegistry()
	env.server = CreateNewServer(Deps{
		Projects: env.projects,
		Usage:    env.usage,
		Queues:   fakeQueues{},
		Members:  fakeMembers{},
		Ready: map[string]ReadinessCheck{
			"database": func(context.Context) error { return env.dbErr },
		},
	}, Options{
		RequestTimeout: time.Second,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
	})
	env.server.MountHandlers()
	return env
}

func (env *testEnv) do(t *testing.T, method, target, body string, user string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	env.server.Router.ServeHTTP(rec, req)
	return rec
}

func TestGetVersion(t *testing.T) {
	env := newTestEnv()
	rsp := env.do(t, http.MethodGet, "/version", "", "")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, "application/json", rsp.Header().Get("Content-Type"))
	assert.Equal(t, config.APIVersion, gjson.Get(rsp.Body.String(), "apiVersion").String())
	assert.NotEmpty(t, rsp.Header().Get("X-Request-ID"))
}

func TestGetReadiness(t *testing.T) {
	env := newTestEnv()
	rsp := env.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rsp.Code)

	env.dbErr = errors.New("connection refused")
	rsp = env.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rsp.Code)
	assert.Equal(t, "database unavailable", gjson.Get(rsp.Body.String(), "error").String())
}

func TestCreateProjectHandler(t *testing.T) {
	env := newTestEnv()
	body := `{"name": "demo", "project_admin_email": "admin@example.com"}`

	rsp := env.do(t, http.MethodPost, "/admin/projects", body, "")
	assert.Equal(t, http.StatusUnauthorized, rsp.Code)

	rsp = env.do(t, http.MethodPost, "/admin/projects", body, "3")
	require.Equal(t, http.StatusCreated, rsp.Code)
	assert.Equal(t, "/admin/projects/12", rsp.Header().Get("Location"))
	assert.Equal(t, int64(3), env.projects.lastOwner)
	assert.Equal(t, "project", gjson.Get(rsp.Body.String(), "steps.0.name").String())
	assert.False(t, gjson.Get(rsp.Body.String(), "rollback").Exists())

	env.projects.failCreate = true
	rsp = env.do(t, http.MethodPost, "/admin/projects", body, "3")
	require.Equal(t, http.StatusBadRequest, rsp.Code)
	assert.Len(t, gjson.Get(rsp.Body.String(), "steps").Array(), 2)

	rsp = env.do(t, http.MethodPost, "/admin/projects", `{"name": "demo", "project_admin_email": "nope"}`, "3")
	require.Equal(t, http.StatusBadRequest, rsp.Code)
	assert.Contains(t, gjson.Get(rsp.Body.String(), "error").String(), "project_admin_email")
}

func TestProjectHandlers(t *testing.T) {
	env := newTestEnv()

	rsp := env.do(t, http.MethodGet, "/admin/projects/12", "", "1")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, "demo", gjson.Get(rsp.Body.String(), "name").String())

	rsp = env.do(t, http.MethodGet, "/admin/projects/13", "", "1")
	assert.Equal(t, http.StatusNotFound, rsp.Code)

	rsp = env.do(t, http.MethodGet, "/admin/projects/abc", "", "1")
	assert.Equal(t, http.StatusBadRequest, rsp.Code)

	rsp = env.do(t, http.MethodPut, "/admin/projects/12", `{"name": "renamed"}`, "1")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, "renamed", gjson.Get(rsp.Body.String(), "name").String())

	rsp = env.do(t, http.MethodDelete, "/admin/projects/12", "", "1")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Len(t, gjson.Get(rsp.Body.String(), "steps").Array(), 2)

	rsp = env.do(t, http.MethodGet, "/admin/projects/12/users", "", "1")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, int64(4), gjson.Get(rsp.Body.String(), "0.user_id").Int())
}

func TestListProjectsHandler(t *testing.T) {
	env := newTestEnv()

	rsp := env.do(t, http.MethodGet, "/projects?offset=2&limit=5&search=dem", "", "7")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, models.ListOptions{Offset: 2, Limit: 5, Search: "dem"}, env.projects.lastOpts)

	rsp = env.do(t, http.MethodGet, "/projects?limit=-1", "", "7")
	assert.Equal(t, http.StatusBadRequest, rsp.Code)

	rsp = env.do(t, http.MethodGet, "/projects", "", "")
	assert.Equal(t, http.StatusUnauthorized, rsp.Code)
}

func TestPersonalProjectHandler(t *testing.T) {
	env := newTestEnv()

	rsp := env.do(t, http.MethodPost, "/projects/personal", `{"email": "me@example.com"}`, "9")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, int64(9), env.projects.lastOwner)
	assert.Equal(t, "me@example.com", env.projects.personalEmail)

	rsp = env.do(t, http.MethodPost, "/projects/personal", `{}`, "9")
	assert.Equal(t, http.StatusBadRequest, rsp.Code)
}

func TestUsageHandlers(t *testing.T) {
	env := newTestEnv()

	rsp := env.do(t, http.MethodGet, "/usage/tests?project_id=7&start_time=2024-05-01T00:00:00Z", "", "")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, int64(1), gjson.Get(rsp.Body.String(), "total").Int())
	assert.Equal(t, 60.0, gjson.Get(rsp.Body.String(), "rows.0.cpu_usage").Float())
	require.NotNil(t, env.usage.lastFilter.ProjectID)
	assert.Equal(t, int64(7), *env.usage.lastFilter.ProjectID)
	require.NotNil(t, env.usage.lastFilter.StartTime)
	assert.Nil(t, env.usage.lastFilter.EndTime)

	rsp = env.do(t, http.MethodGet, "/usage/tasks", "", "")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.True(t, gjson.Get(rsp.Body.String(), "rows").IsArray())

	rsp = env.do(t, http.MethodGet, "/usage/builds", "", "")
	assert.Equal(t, http.StatusBadRequest, rsp.Code)

	rsp = env.do(t, http.MethodGet, "/usage/tests?end_time=never", "", "")
	assert.Equal(t, http.StatusBadRequest, rsp.Code)

	rsp = env.do(t, http.MethodPost, "/usage/tests?test_type=backend", `{"id": 5}`, "")
	require.Equal(t, http.StatusCreated, rsp.Code)
	assert.Equal(t, "backend", env.usage.lastType)

	rsp = env.do(t, http.MethodPost, "/usage/tests", `{"id": 5}`, "")
	assert.Equal(t, http.StatusBadRequest, rsp.Code)

	rsp = env.do(t, http.MethodPut, "/usage/tests", `{"report_id": 5, "time_to_sleep": 10}`, "")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, int64(10), gjson.Get(rsp.Body.String(), "duration").Int())

	rsp = env.do(t, http.MethodPut, "/usage/tests", `{"report_id": 6, "time_to_sleep": 10}`, "")
	assert.Equal(t, http.StatusNotFound, rsp.Code)

	rsp = env.do(t, http.MethodPost, "/usage/tasks", `{"id": "t"}`, "")
	assert.Equal(t, http.StatusCreated, rsp.Code)

	rsp = env.do(t, http.MethodPut, "/usage/tasks", `{"id": 2}`, "")
	assert.Equal(t, http.StatusOK, rsp.Code)
}

func TestQueueHandlers(t *testing.T) {
	env := newTestEnv()

	rsp := env.do(t, http.MethodPut, "/queues/project_1_vhost/jobs", "", "")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, "Queue with name jobs registered", gjson.Get(rsp.Body.String(), "msg").String())

	rsp = env.do(t, http.MethodGet, "/queues/project_1_vhost?remove_internal=true", "", "")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.JSONEq(t, `["a"]`, rsp.Body.String())

	rsp = env.do(t, http.MethodGet, "/queues/project_1_vhost?remove_internal=maybe", "", "")
	assert.Equal(t, http.StatusBadRequest, rsp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv()
	env.do(t, http.MethodGet, "/version", "", "")

	rsp := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Contains(t, rsp.Body.String(), `route="/version"`)
}

func TestCORS(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := CreateNewServer(Deps{}, Options{
		HandleCORS:     true,
		AllowedOrigins: []string{"https://app.example.com"},
		Gatherer:       reg,
	})
	s.MountHandlers()

	req := httptest.NewRequest(http.MethodOptions, "/version", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
