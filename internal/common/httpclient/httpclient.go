package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// HTTPError is a non-2xx answer from the server.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the status of an *HTTPError in err's chain, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

type ClientOptions struct {
	Timeout               time.Duration
	DisableCertValidation bool
	Attempts              uint
	RetryDelay            time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Attempts == 0 {
		o.Attempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

type HTTPClient struct {
	config     Configurator
	httpClient *http.Client
	opts       ClientOptions
}

func NewClient(config Configurator, opts ...ClientOptions) *HTTPClient {
	var o ClientOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	o = o.withDefaults()
	hc := &http.Client{Timeout: o.Timeout}
	if o.DisableCertValidation {
		hc.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &HTTPClient{
		config:     config,
		httpClient: hc,
		opts:       o,
	}
}

// RequestOptions describes one call. Form takes precedence over Body and is
// sent url-encoded. BearerToken takes precedence over basic auth.
type RequestOptions struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Body        []byte
	Form        url.Values
	BearerToken string
}

// DoRequest performs the call and returns the body and the Location header.
func (c *HTTPClient) DoRequest(ctx context.Context, opts RequestOptions) ([]byte, string, error) {
	var (
		body     []byte
		location string
	)
	err := retry.Do(func() error {
		var err error
		body, location, err = c.do(ctx, opts)
		if err != nil && !retryable(err) {
			return retry.Unrecoverable(err)
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(c.opts.Attempts),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Str("path", opts.Path).Msg("retrying request")
		}),
	)
	if err != nil {
		return nil, "", err
	}
	return body, location, nil
}

func retryable(err error) bool {
	code := StatusCode(err)
	return code == 0 || code >= http.StatusInternalServerError
}

func (c *HTTPClient) do(ctx context.Context, opts RequestOptions) ([]byte, string, error) {
	u, err := url.Parse(c.config.GetServerURL())
	if err != nil {
		return nil, "", retry.Unrecoverable(fmt.Errorf("invalid server URL: %w", err))
	}
	// callers escape path segments themselves
	u.RawPath = path.Join(u.EscapedPath(), opts.Path)
	u.Path, _ = url.PathUnescape(u.RawPath)

	q := u.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	var (
		reader      io.Reader
		contentType = "application/json"
	)
	switch {
	case opts.Form != nil:
		reader = strings.NewReader(opts.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case opts.Body != nil:
		reader = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), reader)
	if err != nil {
		return nil, "", retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	if reader != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+opts.BearerToken)
	} else if user, pass := c.config.GetBasicAuth(); user != "" {
		req.SetBasicAuth(user, pass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, "", &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}
	return respBody, resp.Header.Get("Location"), nil
}

// errorMessage picks the human readable part of an error body. Keycloak uses
// errorMessage or error_description, RabbitMQ uses reason.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, p := range []string{"errorMessage", "error_description", "reason", "error"} {
			if v := gjson.GetBytes(body, p); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	return strings.TrimSpace(string(body))
}
