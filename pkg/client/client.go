// Package client is the HTTP connection a remote query processor uses to
// reach a payvex backend.
package client

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

	"github.com/klauspost/compress/gzip"
	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/query"
	"github.com/payvex/payvex/pkg/rpc"
)

// DefaultTimeout bounds a single call when Options.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// compressThreshold is the body size above which requests are gzipped.
const compressThreshold = 8 * 1024

var (
	ErrRemote     = errors.New("remote call failed")
	ErrMissingURL = errors.New("backend URL is required")
)

// Options configures a Client.
type Options struct {
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements backend.Conn over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ backend.Conn = (*Client)(nil)

// New creates a client for the backend at opts.URL.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, ErrMissingURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.URL, "/"),
		token:   opts.Token,
		http:    hc,
	}, nil
}

// Query runs a read-only operation.
func (c *Client) Query(ctx context.Context, ref string, args any) (json.RawMessage, error) {
	return c.call(ctx, rpc.PathQuery, ref, args)
}

// Mutation runs a write operation.
func (c *Client) Mutation(ctx context.Context, ref string, args any) (json.RawMessage, error) {
	return c.call(ctx, rpc.PathMutation, ref, args)
}

func (c *Client) call(ctx context.Context, path, ref string, args any) (json.RawMessage, error) {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s args: %w", ref, err)
	}
	body, err := json.Marshal(rpc.Call{Path: ref, Args: rawArgs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s call: %w", ref, err)
	}

	compressed := false
	if len(body) > compressThreshold {
		if body, err = gzipBytes(body); err != nil {
			return nil, err
		}
		compressed = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRemote, ref, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading response: %w", ErrRemote, ref, err)
	}

	var out rpc.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: HTTP %d: undecodable response", ErrRemote, ref, resp.StatusCode)
	}
	if out.Status != "success" {
		return nil, decodeError(ref, resp.StatusCode, out)
	}
	return out.Value, nil
}

// decodeError restores the error class reported by the server so callers
// can keep using query.IsValidation and errors.Is(err, backend.ErrNotFound).
func decodeError(ref string, status int, out rpc.Response) error {
	switch out.ErrorKind {
	case rpc.KindValidation:
		return &query.ValidationError{Field: ref, Message: out.ErrorMessage}
	case rpc.KindNotFound:
		return fmt.Errorf("%w: %s", backend.ErrNotFound, out.ErrorMessage)
	}
	return fmt.Errorf("%w: %s: HTTP %d: %s", ErrRemote, ref, status, out.ErrorMessage)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress request: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress request: %w", err)
	}
	return buf.Bytes(), nil
}
