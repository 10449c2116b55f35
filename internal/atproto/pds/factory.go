package pds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

// Option configures a Client
type Option func(*client)

// WithLogger sets the logger for per-call debug lines
func WithLogger(l *slog.Logger) Option {
	return func(c *client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the transport used for XRPC calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		if hc != nil {
			c.api.Client = hc
		}
	}
}

// Login opens a session with an app password (com.atproto.server.createSession).
func Login(ctx context.Context, host, identifier, appPassword string, opts ...Option) (Client, error) {
	if err := required("host", host, "handle", identifier, "password", appPassword); err != nil {
		return nil, err
	}

	api, err := atclient.LoginWithPasswordHost(ctx, host, identifier, appPassword, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to login with password: %w", classifyError("createSession", err))
	}

	var did string
	if api.AccountDID != nil {
		did = api.AccountDID.String()
	}
	return newClient(api, did, host, opts), nil
}

// Resume builds a client from an access token issued earlier for did.
func Resume(host, did, accessToken string, opts ...Option) (Client, error) {
	if err := required("host", host, "did", did, "accessToken", accessToken); err != nil {
		return nil, err
	}

	api := atclient.NewAPIClient(host)
	api.Auth = &bearerAuth{token: accessToken}
	return newClient(api, did, host, opts), nil
}

func newClient(api *atclient.APIClient, did, host string, opts []Option) *client {
	c := &client{
		api:    api,
		logger: slog.Default(),
		did:    did,
		host:   host,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// required takes name/value pairs and reports every empty value.
func required(pairs ...string) error {
	var errs []error
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			errs = append(errs, fmt.Errorf("%s is required", pairs[i]))
		}
	}
	return errors.Join(errs...)
}

// bearerAuth is an atclient.AuthMethod sending a fixed access token.
type bearerAuth struct {
	token string
}

var _ atclient.AuthMethod = (*bearerAuth)(nil)

func (b *bearerAuth) DoWithAuth(c *http.Client, req *http.Request, _ syntax.NSID) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+b.token)
	return c.Do(req)
}
