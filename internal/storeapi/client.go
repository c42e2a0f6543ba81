// Package storeapi talks to the storefront's HTTP queue API.
package storeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/storebridge/internal/logging"
	"github.com/msageha/storebridge/internal/model"
)

const (
	DefaultBaseURL = "https://api.craftingstore.net"
	DefaultTimeout = 10 * time.Second

	queuePath        = "/v4/queue"
	markCompletePath = "/v4/queue/markComplete"
	paymentsPath     = "/v7/payments"

	// maxBodyBytes caps how much of a response body is decoded.
	maxBodyBytes = 8 << 20
)

// Client is the remote queue. Transport failures never surface as errors from
// FetchQueue or Acknowledge; they become Success=false and false.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logging.Logger
	fetches singleflight.Group
}

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *logging.Logger
	// HTTPClient overrides the default client; its Timeout is left as is.
	HTTPClient *http.Client
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("store token is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   opts.Token,
		http:    hc,
		logger:  logger,
	}, nil
}

// FetchQueue returns the pending commands. Concurrent callers share one request.
func (c *Client) FetchQueue(ctx context.Context) model.QueueSnapshot {
	v, _, shared := c.fetches.Do(queuePath, func() (any, error) {
		var snap model.QueueSnapshot
		if err := c.getJSON(ctx, queuePath, &snap); err != nil {
			c.logger.Errorf("unable to retrieve commands: %v", err)
			return model.QueueSnapshot{Success: false, Error: "transport", Message: err.Error()}, nil
		}
		return snap, nil
	})
	snap := v.(model.QueueSnapshot)
	if shared {
		snap.Result = append([]model.Command(nil), snap.Result...)
	}
	return snap
}

// FetchTransactions returns recent payments. Failures yield Success=false.
func (c *Client) FetchTransactions(ctx context.Context) model.TransactionSnapshot {
	var snap model.TransactionSnapshot
	if err := c.getJSON(ctx, paymentsPath, &snap); err != nil {
		c.logger.Errorf("unable to retrieve transactions: %v", err)
		return model.TransactionSnapshot{Success: false, Message: err.Error()}
	}
	return snap
}

// Acknowledge marks ids complete. It reports true only for a 2xx response.
func (c *Client) Acknowledge(ctx context.Context, ids []int64) bool {
	if len(ids) == 0 {
		return true
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		c.logger.Errorf("encode removeIds: %v", err)
		return false
	}
	form := url.Values{"removeIds": {string(encoded)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+markCompletePath, strings.NewReader(form.Encode()))
	if err != nil {
		c.logger.Errorf("build markComplete request: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Errorf("unable to complete commands %v: %v", ids, err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Errorf("unable to complete commands %v: status %d", ids, resp.StatusCode)
		return false
	}
	c.logger.Debugf("markComplete ids=%v status=%d", ids, resp.StatusCode)
	return true
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("token", c.token)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode body: %w", path, err)
	}
	return nil
}
