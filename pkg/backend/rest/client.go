// Package rest talks to a hosted PostgREST/GoTrue style backend over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cgast/schemaprobe/pkg/backend"
)

const maxBodySize = 10 * 1024 * 1024

// ErrMissingKey is returned before any request is sent by a client that has
// no key to send.
var ErrMissingKey = errors.New("rest: api key not configured")

// Client reads entities and identities from the backend.
type Client struct {
	baseURL    *url.URL
	key        string
	anonKey    string
	anonymous  bool
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAnonKey sets the key used for unauthenticated reads.
func WithAnonKey(key string) Option {
	return func(c *Client) {
		c.anonKey = key
	}
}

// New creates a client for the backend at rawURL authenticated with key.
func New(rawURL, key string, opts ...Option) (*Client, error) {
	if rawURL == "" {
		return nil, errors.New("rest: backend url is required")
	}
	u, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: invalid backend url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("rest: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		baseURL:    u,
		key:        key,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Anonymous returns a client that reads with the anon key only.
func (c *Client) Anonymous() *Client {
	clone := *c
	clone.key = c.anonKey
	clone.anonymous = true
	return &clone
}

// Clients wires the client into the harness collaborator set.
func (c *Client) Clients() backend.Clients {
	return backend.Clients{Query: c, Anonymous: c.Anonymous(), Auth: c}
}

// CountRows returns the exact row count of entity.
func (c *Client) CountRows(ctx context.Context, entity string) (int, error) {
	q := url.Values{"select": {"*"}, "limit": {"0"}}
	req, err := c.newRequest(ctx, c.entityPath(entity), q)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Prefer", "count=exact")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rest: count %s: %w", entity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return 0, decodeError(resp, entity)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	n, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return 0, fmt.Errorf("rest: count %s: %w", entity, err)
	}
	return n, nil
}

// FetchRows returns up to limit rows of entity.
func (c *Client) FetchRows(ctx context.Context, entity string, limit int) ([]backend.Record, error) {
	q := url.Values{"select": {"*"}, "limit": {strconv.Itoa(limit)}}
	req, err := c.newRequest(ctx, c.entityPath(entity), q)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: fetch %s: %w", entity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, decodeError(resp, entity)
	}

	var rows []backend.Record
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&rows); err != nil {
		return nil, fmt.Errorf("rest: fetch %s: decode body: %w", entity, err)
	}
	return rows, nil
}

// CurrentIdentity returns the user behind the client's key, or nil when the
// auth service treats the caller as anonymous.
func (c *Client) CurrentIdentity(ctx context.Context) (*backend.Identity, error) {
	req, err := c.newRequest(ctx, "/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: identity: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, nil
	case resp.StatusCode >= 300:
		return nil, decodeError(resp, "")
	}

	var id backend.Identity
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&id); err != nil {
		return nil, fmt.Errorf("rest: identity: decode body: %w", err)
	}
	if id.ID == "" {
		return nil, nil
	}
	return &id, nil
}

func (c *Client) entityPath(entity string) string {
	return "/rest/v1/" + url.PathEscape(entity)
}

func (c *Client) newRequest(ctx context.Context, path string, q url.Values) (*http.Request, error) {
	if c.key == "" {
		if c.anonymous {
			return nil, fmt.Errorf("%w: anonymous reads need an anon key", ErrMissingKey)
		}
		return nil, ErrMissingKey
	}
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("rest: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	return req, nil
}

// parseContentRange extracts the total from "0-9/42" or "*/42".
func parseContentRange(v string) (int, error) {
	i := strings.LastIndex(v, "/")
	if i < 0 {
		return 0, fmt.Errorf("missing count in Content-Range %q", v)
	}
	total := v[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("backend did not return an exact count (Content-Range %q)", v)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Range %q: %w", v, err)
	}
	return n, nil
}
