// Package pds talks XRPC to the signed-in account's PDS: repository writes,
// plus the app.bsky queries and procedures the PDS proxies to the AppView.
package pds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

const (
	methodCreateRecord = syntax.NSID("com.atproto.repo.createRecord")
	methodDeleteRecord = syntax.NSID("com.atproto.repo.deleteRecord")
)

// Client is an authenticated session against one account's PDS.
type Client interface {
	// CreateRecord writes a record into the account's repo. An empty rkey lets
	// the PDS mint a TID. Returns the new record's URI and CID.
	CreateRecord(ctx context.Context, collection string, rkey string, record any) (uri string, cid string, err error)

	// DeleteRecord removes a record from the account's repo.
	DeleteRecord(ctx context.Context, collection string, rkey string) error

	// Query runs an XRPC query (GET) and decodes the body into out.
	Query(ctx context.Context, nsid string, params map[string]any, out any) error

	// Procedure runs an XRPC procedure (POST). out may be nil.
	Procedure(ctx context.Context, nsid string, body any, out any) error

	// DID is the session's account.
	DID() string

	// HostURL is the PDS the session talks to.
	HostURL() string
}

type client struct {
	api    *atclient.APIClient
	logger *slog.Logger
	did    string
	host   string
}

var _ Client = (*client)(nil)

// statusErrors maps XRPC status codes to sentinel errors. Anything 5xx is
// ErrServerError.
var statusErrors = map[int]error{
	400: ErrBadRequest,
	401: ErrUnauthorized,
	403: ErrForbidden,
	404: ErrNotFound,
	409: ErrConflict,
	413: ErrPayloadTooLarge,
	429: ErrRateLimited,
}

// classifyError tags an atclient error with the sentinel for its status so
// callers can use errors.Is. Transport errors keep their original chain.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *atclient.APIError
	if errors.As(err, &apiErr) {
		if sentinel, ok := statusErrors[apiErr.StatusCode]; ok {
			return fmt.Errorf("%s: %w: %s", op, sentinel, apiErr.Message)
		}
		if apiErr.StatusCode >= 500 {
			return fmt.Errorf("%s: %w (%d): %s", op, ErrServerError, apiErr.StatusCode, apiErr.Message)
		}
	}

	return fmt.Errorf("%s failed: %w", op, err)
}

func (c *client) DID() string {
	return c.did
}

func (c *client) HostURL() string {
	return c.host
}

func (c *client) CreateRecord(ctx context.Context, collection string, rkey string, record any) (string, string, error) {
	input := map[string]any{
		"repo":       c.did,
		"collection": collection,
		"record":     record,
	}
	if rkey != "" {
		input["rkey"] = rkey
	}

	var created struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := c.post(ctx, methodCreateRecord, input, &created); err != nil {
		return "", "", err
	}
	return created.URI, created.CID, nil
}

func (c *client) DeleteRecord(ctx context.Context, collection string, rkey string) error {
	return c.post(ctx, methodDeleteRecord, map[string]any{
		"repo":       c.did,
		"collection": collection,
		"rkey":       rkey,
	}, nil)
}

func (c *client) Query(ctx context.Context, nsid string, params map[string]any, out any) error {
	id, err := syntax.ParseNSID(nsid)
	if err != nil {
		return fmt.Errorf("invalid nsid %q: %w", nsid, err)
	}

	start := time.Now()
	err = c.api.Get(ctx, id, params, out)
	c.logger.Debug("xrpc query", "nsid", id.String(), "duration", time.Since(start), "error", err)
	return classifyError(id.String(), err)
}

func (c *client) Procedure(ctx context.Context, nsid string, body any, out any) error {
	id, err := syntax.ParseNSID(nsid)
	if err != nil {
		return fmt.Errorf("invalid nsid %q: %w", nsid, err)
	}
	return c.post(ctx, id, body, out)
}

func (c *client) post(ctx context.Context, id syntax.NSID, body any, out any) error {
	start := time.Now()
	err := c.api.Post(ctx, id, body, out)
	c.logger.Debug("xrpc procedure", "nsid", id.String(), "duration", time.Since(start), "error", err)
	return classifyError(id.String(), err)
}
