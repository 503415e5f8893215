package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carrierhub/provisioner/internal/provisioner/secrets"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultSecretsInitFailure(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string][]string{"errors": {"permission denied"}})
	}))
	defer srv.Close()

	v, err := secrets.New(secrets.Options{Address: srv.URL, Token: "root"})
	require.NoError(t, err)
	s := vaultSecrets{vault: v}

	h, err := s.Init(ctx, 4, "token")
	assert.Error(t, err)
	// a failed init must yield a nil interface, not a typed nil handle
	assert.True(t, h == nil)
	assert.ErrorIs(t, s.Remove(ctx, 4), secrets.ErrSecrets)
}

func TestVaultSecretsFromProject(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/kv-for-project-9/data/project-secrets"), r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": map[string]any{"project_id": "9"}},
		})
	}))
	defer srv.Close()

	v, err := secrets.New(secrets.Options{Address: srv.URL, Token: "root", MountPrefix: "kv-for-project-"})
	require.NoError(t, err)

	values, err := vaultSecrets{vault: v}.FromProject(9).Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9", values["project_id"])
}
