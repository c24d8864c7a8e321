// Package remote talks to the record-oriented StoryPath store: filtered
// reads, creates and updates over project, location, tracking and the
// participant-count views.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/storypath/engine/internal/auth"
	"github.com/storypath/engine/internal/storypath"
)

// RetryPolicy controls how failed reads are retried. Writes are never
// retried automatically.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries; values below 1 mean 1.
	MaxAttempts int
	// Backoff is the wait before the second attempt, doubled after each
	// further failure.
	Backoff time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

type Options struct {
	BaseURL string
	// Token is a static bearer token. When empty and JWTSecret is set, a
	// short-lived HS256 token is minted per request.
	Token     string
	JWTSecret string
	// Username is the API account written to the username column of
	// created records. Empty keeps the value supplied by the caller.
	Username string
	Role     string
	// Timeout bounds each request; zero leaves the transport default.
	Timeout    time.Duration
	Retry      RetryPolicy
	HTTPClient *http.Client
}

type Client struct {
	base   *url.URL
	http   *http.Client
	auth   func() (string, error)
	user   string
	retry  RetryPolicy
	logger *slog.Logger
}

func New(logger *slog.Logger, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing store url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("store url %q: scheme must be http or https", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{
		base:   base,
		http:   hc,
		user:   opts.Username,
		retry:  opts.Retry,
		logger: logger,
	}
	switch {
	case opts.Token != "":
		token := opts.Token
		c.auth = func() (string, error) { return token, nil }
	case opts.JWTSecret != "":
		c.auth = auth.NewSigner([]byte(opts.JWTSecret), opts.Username, opts.Role).Sign
	}
	return c, nil
}

// uniqueViolation is the PostgreSQL error code the store reports for a
// duplicate key.
const uniqueViolation = "23505"

// APIError is a non-2xx answer from the store. Code is the store's error
// code, empty when the body carried none.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store responded %d", e.Status)
	}
	return fmt.Sprintf("store responded %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusConflict:
		if e.Code == uniqueViolation {
			return storypath.ErrDuplicateEvent
		}
		return storypath.ErrRejected
	case http.StatusNotFound:
		return storypath.ErrNotFound
	}
	return storypath.ErrRemoteUnavailable
}

func (e *APIError) temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// get reads resource filtered by query into dest, retrying per policy.
func (c *Client) get(ctx context.Context, resource string, query url.Values, dest any) error {
	wait := c.retry.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		err = c.do(ctx, http.MethodGet, resource, query, nil, dest)
		if err == nil || attempt >= c.retry.attempts() || !temporary(err) {
			return err
		}

		c.logger.Warn("store read failed, retrying",
			"resource", resource, "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func temporary(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.temporary()
	}
	return errors.Is(err, storypath.ErrRemoteUnavailable)
}

func (c *Client) do(ctx context.Context, method, resource string, query url.Values, body, dest any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + resource
	u.RawQuery = query.Encode()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s body: %w", resource, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}
	if c.auth != nil {
		token, err := c.auth()
		if err != nil {
			return fmt.Errorf("signing store token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", method, resource, storypath.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &msg) != nil || msg.Message == "" {
			msg.Message = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("%s %s: %w", method, resource, &APIError{Status: resp.StatusCode, Code: msg.Code, Message: msg.Message})
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w: %v", method, resource, storypath.ErrRemoteUnavailable, err)
	}
	return nil
}

// Ping checks that the store answers reads.
func (c *Client) Ping(ctx context.Context) error {
	var rows []json.RawMessage
	return c.do(ctx, http.MethodGet, "project", url.Values{"limit": {"1"}}, nil, &rows)
}

// single decodes a create/update representation that may be either one
// object or an array of them.
func single(raw json.RawMessage, dest any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return errors.New("empty representation")
		}
		trimmed = rows[0]
	}
	return json.Unmarshal(trimmed, dest)
}
