// Package httpremote implements sync.RemoteReplica over HTTP for
// deployments where the remote is fronted by an API gateway rather than
// exposing raw SQL access. Grounded on
// MKhiriev-GoPassKeeper/internal/adapter/http_client.go's
// authedRequest/mapHTTPError pattern, with a JWT bearer token supplied
// up front (storage.auth_token) rather than obtained via login.
package httpremote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/0xfell/ditox/internal/clip"
	"github.com/0xfell/ditox/internal/ditoxerr"
)

// ErrUnauthorized is returned when the bearer token was rejected.
var ErrUnauthorized = errors.New("httpremote: unauthorized")

// ErrConflict is returned when the remote reports a version/lamport
// conflict distinct from the engine's own LWW comparison (e.g. a
// concurrent writer raced the same row).
var ErrConflict = errors.New("httpremote: conflict")

// Config configures a Client.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// Client is a sync.RemoteReplica backed by a JWT-authenticated REST API.
type Client struct {
	http  *resty.Client
	token string
}

// New validates cfg.AuthToken as a well-formed JWT (without verifying
// its signature, matching the library's unverified-parse idiom used for
// extracting claims) and constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ditoxerr.New(ditoxerr.InvalidInput, "httpremote: empty base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.AuthToken != "" {
		if _, _, err := jwt.NewParser().ParseUnverified(cfg.AuthToken, jwt.MapClaims{}); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.InvalidInput, "httpremote: malformed auth token", err)
		}
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	return &Client{http: cli, token: cfg.AuthToken}, nil
}

type wireClip struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Text       string  `json:"text"`
	CreatedAt  int64   `json:"created_at"`
	IsFavorite bool    `json:"is_favorite"`
	DeletedAt  *int64  `json:"deleted_at,omitempty"`
	UpdatedAt  int64   `json:"updated_at"`
	Lamport    int64   `json:"lamport"`
	DeviceID   string  `json:"device_id"`
}

func toWire(c *clip.Clip) wireClip {
	w := wireClip{
		ID:         c.ID,
		Kind:       string(c.Kind),
		Text:       c.Text,
		CreatedAt:  c.CreatedAt.UnixNano(),
		IsFavorite: c.IsFavorite,
		UpdatedAt:  c.UpdatedAt.UnixNano(),
		Lamport:    c.Lamport,
		DeviceID:   c.DeviceID,
	}
	if c.DeletedAt != nil {
		ns := c.DeletedAt.UnixNano()
		w.DeletedAt = &ns
	}
	return w
}

func (w wireClip) toClip() *clip.Clip {
	c := &clip.Clip{
		ID:         w.ID,
		Kind:       clip.Kind(w.Kind),
		Text:       w.Text,
		CreatedAt:  time.Unix(0, w.CreatedAt).UTC(),
		IsFavorite: w.IsFavorite,
		UpdatedAt:  time.Unix(0, w.UpdatedAt).UTC(),
		Lamport:    w.Lamport,
		DeviceID:   w.DeviceID,
	}
	if w.DeletedAt != nil {
		t := time.Unix(0, *w.DeletedAt).UTC()
		c.DeletedAt = &t
	}
	return c
}

func (c *Client) authedRequest(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if c.token != "" {
		req.SetHeader("Authorization", "Bearer "+c.token)
	}
	return req
}

// PullSince fetches remote clips updated after since.
func (c *Client) PullSince(ctx context.Context, since time.Time, limit int) ([]*clip.Clip, error) {
	var rows []wireClip
	resp, err := c.authedRequest(ctx).
		SetQueryParam("since", fmt.Sprintf("%d", since.UnixNano())).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&rows).
		Get("/api/sync/clips")
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "pull request", err)
	}
	if err := mapHTTPError(resp); err != nil {
		return nil, err
	}

	out := make([]*clip.Clip, 0, len(rows))
	for _, w := range rows {
		out = append(out, w.toClip())
	}
	return out, nil
}

// Upsert pushes c to the remote. The server is expected to perform the
// same LWW comparison the engine would, and report 409 when it declines
// to apply (reported here as applied=false, not an error).
func (c *Client) Upsert(ctx context.Context, cl *clip.Clip) (bool, error) {
	resp, err := c.authedRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(toWire(cl)).
		Post("/api/sync/clips")
	if err != nil {
		return false, ditoxerr.Wrap(ditoxerr.Unavailable, "upsert request", err)
	}
	if resp.StatusCode() == http.StatusConflict {
		return false, nil
	}
	if err := mapHTTPError(resp); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) Close() error { return nil }

func mapHTTPError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}
	body := strings.TrimSpace(string(resp.Body()))
	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return ditoxerr.Wrap(ditoxerr.Denied, "httpremote", ErrUnauthorized)
	case resp.StatusCode() == http.StatusConflict:
		return ditoxerr.Wrap(ditoxerr.Conflict, "httpremote", ErrConflict)
	default:
		if body == "" {
			body = http.StatusText(resp.StatusCode())
		}
		return ditoxerr.Wrap(ditoxerr.Unavailable, fmt.Sprintf("http %d: %s", resp.StatusCode(), body), nil)
	}
}
