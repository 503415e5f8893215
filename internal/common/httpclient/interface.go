// Package httpclient is a small JSON REST client used by the broker and
// identity provider adapters. Transport failures and 5xx answers are retried.
package httpclient

import "context"

// Configurator supplies the target server and its credentials.
type Configurator interface {
	GetServerURL() string
	// GetBasicAuth returns empty strings when basic auth is not used.
	GetBasicAuth() (user, password string)
}

type HTTPClientInterface interface {
	DoRequest(ctx context.Context, opts RequestOptions) ([]byte, string, error)
}

var _ HTTPClientInterface = &HTTPClient{}
