// Package integrations resolves the admin default integration of a cloud
// provider, used to decide who is billed for a cloud test run.
package integrations

import (
	"context"
	"fmt"
	"net/http"

	"github.com/carrierhub/provisioner/internal/common/apperrors"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
)

var (
	ErrIntegrations   apperrors.Error = apperrors.New("integrations error").SetStatusCode(http.StatusInternalServerError)
	ErrNoAdminDefault apperrors.Error = ErrIntegrations.New("no admin default integration").SetStatusCode(http.StatusNotFound)
)

type Integration struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Defaults is a config backed admin defaults lookup.
type Defaults struct {
	byName map[string]Integration
}

func NewDefaults(list []config.AdminDefault) *Defaults {
	d := &Defaults{byName: make(map[string]Integration, len(list))}
	for _, def := range list {
		d.byName[def.Name] = Integration{ID: def.ID, Name: def.Name}
	}
	return d
}

// AdminDefaults returns the admin default integration registered under name,
// or ErrNoAdminDefault.
func (d *Defaults) AdminDefaults(_ context.Context, name string) (*Integration, error) {
	i, ok := d.byName[name]
	if !ok {
		return nil, ErrNoAdminDefault.Msg(fmt.Sprintf("no admin default for integration %q", name))
	}
	return &i, nil
}
