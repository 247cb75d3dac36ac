package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// InstanceAPI covers compute-instance lifecycle calls.
type InstanceAPI interface {
	DescribeInstance(ctx context.Context, id string) (*Instance, error)
	RestartInstance(ctx context.Context, id string) error
	WaitForInstanceState(ctx context.Context, id, state string, timeout time.Duration) error
}

// DatabaseAPI covers managed-database calls.
type DatabaseAPI interface {
	DescribeDatabase(ctx context.Context, name string) (*Database, error)
	CreateDatabase(ctx context.Context, name string) (*Database, error)
	DatabaseCredentials(ctx context.Context, name string) (*Credential, error)
}

// BucketAPI covers object-storage bucket calls.
type BucketAPI interface {
	DescribeBucket(ctx context.Context, name string) (*Bucket, error)
	CreateBucket(ctx context.Context, name string) (*Bucket, error)
	GrantBucketAccess(ctx context.Context, bucket, instanceID, accessLevel string) error
}

// API is the full control-plane surface the orchestrator uses.
type API interface {
	InstanceAPI
	DatabaseAPI
	BucketAPI
}

// pollInterval between lifecycle state checks.
const pollInterval = 10 * time.Second

// Client is the HTTP implementation of API, authenticating with a bearer
// token. All creation calls are guarded by existence checks in the callers,
// and the endpoints themselves are idempotent on the provider side.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      zerolog.Logger
}

// NewClient creates a control-plane client for the given endpoint.
func NewClient(endpoint, token string, log zerolog.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log.With().Str("component", "controlplane").Logger(),
	}
}

func (c *Client) DescribeInstance(ctx context.Context, id string) (*Instance, error) {
	var out Instance
	if err := c.do(ctx, http.MethodGet, "/v1/instances/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RestartInstance(ctx context.Context, id string) error {
	c.log.Info().Str("instance", id).Msg("requesting hard instance restart")
	return c.do(ctx, http.MethodPost, "/v1/instances/"+id+"/restart", nil, nil)
}

// WaitForInstanceState polls until the instance reports the wanted state or
// the timeout elapses.
func (c *Client) WaitForInstanceState(ctx context.Context, id, state string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		inst, err := c.DescribeInstance(ctx, id)
		if err == nil && inst.State == state {
			return nil
		}
		if err != nil {
			c.log.Warn().Err(err).Str("instance", id).Msg("describe failed while waiting for state")
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("instance %s did not reach state %q within %s", id, state, timeout)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) DescribeDatabase(ctx context.Context, name string) (*Database, error) {
	var out Database
	if err := c.do(ctx, http.MethodGet, "/v1/databases/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateDatabase(ctx context.Context, name string) (*Database, error) {
	var out Database
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/v1/databases", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DatabaseCredentials fetches a fresh credential. The control plane mints or
// returns the currently valid secret; nothing is cached client-side.
func (c *Client) DatabaseCredentials(ctx context.Context, name string) (*Credential, error) {
	var out Credential
	if err := c.do(ctx, http.MethodGet, "/v1/databases/"+name+"/credentials", nil, &out); err != nil {
		return nil, err
	}
	if out.FetchedAt.IsZero() {
		out.FetchedAt = time.Now()
	}
	return &out, nil
}

func (c *Client) DescribeBucket(ctx context.Context, name string) (*Bucket, error) {
	var out Bucket
	if err := c.do(ctx, http.MethodGet, "/v1/buckets/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateBucket(ctx context.Context, name string) (*Bucket, error) {
	var out Bucket
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/v1/buckets", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GrantBucketAccess(ctx context.Context, bucket, instanceID, accessLevel string) error {
	body := map[string]string{
		"instance_id":  instanceID,
		"access_level": accessLevel,
	}
	return c.do(ctx, http.MethodPost, "/v1/buckets/"+bucket+"/access", body, nil)
}

// IsNotFound reports whether err is a control-plane 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
