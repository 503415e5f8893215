package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/carrierhub/provisioner/internal/common/httpclient"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]string
	user   string
}

type fakeRabbit struct {
	mu       sync.Mutex
	requests []recorded
	status   int
}

func (f *fakeRabbit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := recorded{method: r.Method, path: r.URL.EscapedPath()}
	rec.user, _, _ = r.BasicAuth()
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		json.Unmarshal(b, &rec.body)
	}
	f.requests = append(f.requests, rec)
	if f.status != 0 {
		w.WriteHeader(f.status)
		w.Write([]byte(`{"error":"Object Not Found","reason":"Not Found"}`))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func newTestAdmin(t *testing.T, f *fakeRabbit) *RabbitAdmin {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewRabbitAdmin(RabbitOptions{ManagementURL: srv.URL, User: "guest", Password: "guest"},
		httpclient.ClientOptions{Attempts: 1, RetryDelay: time.Millisecond})
}

func TestCreateVhost(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	f := &fakeRabbit{}
	admin := newTestAdmin(t, f)

	creds, err := admin.CreateVhost(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "project_5_vhost", creds.Vhost)
	assert.Equal(t, "rabbit_user_5", creds.User)
	assert.Len(t, creds.Password, 24)

	require.Len(t, f.requests, 3)
	assert.Equal(t, http.MethodPut, f.requests[0].method)
	assert.Equal(t, "/api/vhosts/project_5_vhost", f.requests[0].path)
	assert.Equal(t, "guest", f.requests[0].user)
	assert.Equal(t, "/api/users/rabbit_user_5", f.requests[1].path)
	assert.Equal(t, creds.Password, f.requests[1].body["password"])
	assert.Equal(t, "/api/permissions/project_5_vhost/rabbit_user_5", f.requests[2].path)
	assert.Equal(t, ".*", f.requests[2].body["configure"])

	secrets := creds.Secrets()
	assert.Equal(t, "project_5_vhost", secrets[SecretVhost])
	assert.Equal(t, "rabbit_user_5", secrets[SecretUser])
}

func TestCreateVhostFailure(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	f := &fakeRabbit{status: http.StatusUnauthorized}
	admin := newTestAdmin(t, f)

	_, err := admin.CreateVhost(ctx, 5)
	assert.ErrorIs(t, err, ErrVhostCreate)
	assert.Equal(t, http.StatusUnauthorized, httpclient.StatusCode(err))
	assert.Len(t, f.requests, 1)
}

func TestDeleteVhostToleratesMissing(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	f := &fakeRabbit{status: http.StatusNotFound}
	admin := newTestAdmin(t, f)

	require.NoError(t, admin.DeleteVhost(ctx, 9))
	require.Len(t, f.requests, 2)
	assert.Equal(t, http.MethodDelete, f.requests[0].method)
	assert.Equal(t, "/api/vhosts/project_9_vhost", f.requests[0].path)
	assert.Equal(t, "/api/users/rabbit_user_9", f.requests[1].path)
}
