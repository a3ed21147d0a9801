// Package client is the terminal side of the sync protocol. It talks to the
// server over HTTP and, when one is configured, falls back to a peer adapter
// while the server cannot be reached.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/peer"
)

const apiPrefix = "/api/sync"

// ErrUnavailable is returned when the server could not be reached after all
// retries and no peer fallback applies
var ErrUnavailable = errors.New("sync server unavailable")

// APIError is a response the server rejected with a 4xx status
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sync server returned %d: %s", e.Status, e.Message)
}

// Config for a terminal client
type Config struct {
	BaseURL     string
	TerminalID  string
	DeviceToken string
	TokenHeader string
	MaxRetries  int // extra attempts after the first
	Backoff     time.Duration
	Timeout     time.Duration
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPeer enables the degraded-mode fallback for pulls and pushes
func WithPeer(adapter *peer.Adapter) Option {
	return func(c *Client) { c.peer = adapter }
}

// Client speaks the sync protocol for one terminal
type Client struct {
	http *http.Client
	cfg  Config
	peer *peer.Adapter
	log  *observability.Logger

	mu    sync.Mutex
	token string
}

// New creates a client. Zero Config fields take defaults.
func New(cfg Config, opts ...Option) *Client {
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "X-Sync-Token"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
		log:  observability.WithField("terminal_id", cfg.TerminalID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PullResult is a versioned pull, from the server or the peer medium
type PullResult struct {
	Items    []models.Record
	Version  int64
	UpToDate bool
	ViaPeer  bool
}

// PushResult is the outcome of a bulk push
type PushResult struct {
	Count    int
	Metadata models.SyncMetadata
	ViaPeer  bool
}

// Token returns the current sync token, empty before Authenticate
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Authenticate obtains a fresh sync token for the terminal
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var resp models.AuthResponse
	req := models.AuthRequest{TerminalID: c.cfg.TerminalID, DeviceToken: c.cfg.DeviceToken}
	if err := c.send(ctx, http.MethodPost, "/auth", "", req, &resp); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

// Ping probes the server without authenticating
func (c *Client) Ping(ctx context.Context) (*models.PingResponse, error) {
	var resp models.PingResponse
	if err := c.send(ctx, http.MethodGet, "/ping", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches a collection unless sinceVersion already covers it
func (c *Client) Pull(ctx context.Context, collection string, sinceVersion *int64) (*PullResult, error) {
	path := "/collections/" + url.PathEscape(collection) + "/data"
	if sinceVersion != nil {
		path += "?sinceVersion=" + strconv.FormatInt(*sinceVersion, 10)
	}

	var resp models.PullResponse
	err := c.authed(ctx, http.MethodGet, path, nil, &resp)
	if c.usePeer(err) {
		c.log.WithField("collection", collection).Warnf("Pulling from peer medium: %v", err)
		result, perr := c.peer.Pull(ctx, collection, sinceVersion)
		if perr != nil {
			return nil, perr
		}
		return &PullResult{Items: result.Items, Version: result.Version, UpToDate: result.UpToDate, ViaPeer: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &PullResult{Items: resp.Items, Version: resp.Version, UpToDate: resp.UpToDate}, nil
}

// Push writes items to a collection
func (c *Client) Push(ctx context.Context, collection string, items []models.Record) (*PushResult, error) {
	var resp models.PushResponse
	err := c.authed(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/push", itemsBody(items), &resp)
	if c.usePeer(err) {
		c.log.WithField("collection", collection).Warnf("Pushing to peer medium: %v", err)
		meta, perr := c.peer.Push(ctx, collection, items, peer.ActionUpsert)
		if perr != nil {
			return nil, perr
		}
		return &PushResult{Count: len(items), Metadata: meta, ViaPeer: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &PushResult{Count: resp.Count, Metadata: resp.Metadata}, nil
}

// Delta fetches items changed after since. A zero since downloads everything.
func (c *Client) Delta(ctx context.Context, collection string, since time.Time) (*models.DeltaResponse, error) {
	path := "/delta/" + url.PathEscape(collection)
	if !since.IsZero() {
		path += "?since=" + strconv.FormatInt(since.UnixMilli(), 10)
	}

	var resp models.DeltaResponse
	if err := c.authed(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the server's metadata for every collection
func (c *Client) Status(ctx context.Context) (*models.StatusResponse, error) {
	var resp models.StatusResponse
	if err := c.authed(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AppendTransactions submits transactions. Resubmitting after a failed
// attempt is safe.
func (c *Client) AppendTransactions(ctx context.Context, items []models.Record) (*models.AppendResponse, error) {
	var resp models.AppendResponse
	if err := c.authed(ctx, http.MethodPost, "/transactions", itemsBody(items), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PushMovements submits inventory movements
func (c *Client) PushMovements(ctx context.Context, items []models.Record) (*models.AppendResponse, error) {
	var resp models.AppendResponse
	if err := c.authed(ctx, http.MethodPost, "/inventory/movements", itemsBody(items), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportError records a per-item failure in the server's error log
func (c *Client) ReportError(ctx context.Context, req models.ReportErrorRequest) error {
	return c.authed(ctx, http.MethodPost, "/errors", req, nil)
}

func itemsBody(items []models.Record) interface{} {
	if items == nil {
		items = []models.Record{}
	}
	return map[string]interface{}{"items": items}
}

func (c *Client) usePeer(err error) bool {
	return err != nil && c.peer != nil && errors.Is(err, ErrUnavailable)
}

// authed sends with the current token, authenticating first when there is
// none and once more when the server rejects it
func (c *Client) authed(ctx context.Context, method, path string, body, out interface{}) error {
	token := c.Token()
	if token == "" {
		var err error
		if token, err = c.Authenticate(ctx); err != nil {
			return err
		}
	}

	err := c.send(ctx, method, path, token, body, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}

	c.log.Info("Sync token rejected, re-authenticating")
	if token, err = c.Authenticate(ctx); err != nil {
		return err
	}
	return c.send(ctx, method, path, token, body, out)
}

// send retries transport failures and 5xx responses with exponential backoff
func (c *Client) send(ctx context.Context, method, path, token string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, c.cfg.Backoff<<(attempt-1)); err != nil {
				return err
			}
		}

		resp, err := c.doRequest(ctx, method, path, token, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			c.log.Debugf("Sync request %s %s failed (attempt %d): %v", method, path, attempt+1, err)
			continue
		}

		err = c.parseResponse(resp, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= http.StatusInternalServerError {
			lastErr = err
			continue
		}
		return err
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, method, path, token string, payload []byte) (*http.Response, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+apiPrefix+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(c.cfg.TokenHeader, token)
	}

	return c.http.Do(req)
}

func (c *Client) parseResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp models.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
			return &APIError{Status: resp.StatusCode, Message: errResp.Message}
		}
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
