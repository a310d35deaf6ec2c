// Package transport implements the versioned Storm API client used to check
// for bundles and deltas and to stream bundle archives. It follows the
// server's redirect contract: automatic redirect following is disabled and a
// 303 response with a Location header is the server redirecting the client
// straight to a download URL.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Environment selects which published content tree the server serves.
type Environment string

const (
	EnvironmentLive Environment = "live"
	EnvironmentTest Environment = "test"
)

var (
	// ErrUnexpectedStatus reports a check or download response outside the
	// contract (4xx/5xx, or a non-2xx download).
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrMissingAuthToken is returned when the test environment is used
	// without an authorization token.
	ErrMissingAuthToken = errors.New("authorization token required for test environment")

	// ErrBadAppID reports an app identifier the update endpoints cannot be
	// built from.
	ErrBadAppID = errors.New("app ID is empty or malformed")
)

// Endpoint path templates, relative to baseURL/version.
const (
	pathDelta  = "apps/%s/update?timestamp=%d&environment=%s"
	pathBundle = "apps/%s/bundle?environment=%s"
)

// CheckResult is the outcome of a bundle or delta check. When Available is
// true, Endpoint holds the URL of the archive to download.
type CheckResult struct {
	Available bool
	Endpoint  string
}

// Config carries the static parameters of a Client.
type Config struct {
	BaseURL     string
	Version     string
	AppID       string
	Environment Environment
	AuthToken   string
}

// Client talks to the Storm content API.
type Client struct {
	cfg   Config
	appID string
	http  *http.Client
}

// NewClient builds a Client. The underlying http.Client never follows
// redirects; 303 responses are interpreted by the caller-facing methods.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	appID, err := shortAppID(cfg.AppID)
	if err != nil {
		return nil, err
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentLive
	}
	if cfg.Environment == EnvironmentTest && cfg.AuthToken == "" {
		return nil, ErrMissingAuthToken
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	// Copy so redirect suppression doesn't leak into a shared client.
	c := *httpClient
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{cfg: cfg, appID: appID, http: &c}, nil
}

// shortAppID extracts the numeric app identifier from a full CMS app ID of
// the form "SYSTEM_NAME-<society>-<app>". A bare identifier passes through.
func shortAppID(id string) (string, error) {
	if id == "" {
		return "", ErrBadAppID
	}
	parts := strings.Split(id, "-")
	short := parts[len(parts)-1]
	if short == "" {
		return "", fmt.Errorf("%w: %q", ErrBadAppID, id)
	}
	return short, nil
}

// CheckDelta asks the server whether content newer than since exists.
// since is the local manifest timestamp; 0 means "no delta base".
func (c *Client) CheckDelta(ctx context.Context, since int64) (*CheckResult, error) {
	url := fmt.Sprintf("%s/%s/"+pathDelta, c.cfg.BaseURL, c.cfg.Version, c.appID, since, c.cfg.Environment)
	return c.check(ctx, url)
}

// CheckBundle asks the server for the latest full bundle. A non-zero
// buildTimestamp is forwarded so the server can serve the newest bundle
// compatible with the client's build; the client never filters by it.
func (c *Client) CheckBundle(ctx context.Context, buildTimestamp int64) (*CheckResult, error) {
	url := fmt.Sprintf("%s/%s/"+pathBundle, c.cfg.BaseURL, c.cfg.Version, c.appID, c.cfg.Environment)
	if buildTimestamp > 0 {
		url += fmt.Sprintf("&timestamp=%d", buildTimestamp)
	}
	return c.check(ctx, url)
}

func (c *Client) check(ctx context.Context, url string) (*CheckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build check request: %w", err)
	}
	if c.cfg.Environment == EnvironmentTest {
		req.Header.Set("Authorization", c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check for update: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body struct {
			File string `json:"file"`
		}
		// A 200 without a decodable file URL means no update, not an error.
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.File != "" {
			return &CheckResult{Available: true, Endpoint: body.File}, nil
		}
		return &CheckResult{}, nil

	case resp.StatusCode == http.StatusSeeOther:
		if loc := resp.Header.Get("Location"); loc != "" {
			return &CheckResult{Available: true, Endpoint: loc}, nil
		}
		return &CheckResult{}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		return &CheckResult{}, nil

	default:
		return nil, fmt.Errorf("%w: %s checking %s", ErrUnexpectedStatus, resp.Status, url)
	}
}

// Download streams the archive at url into dst. progress, if non-nil, is
// called after every chunk with the cumulative byte count and the advisory
// total from Content-Length (0 when the server omits it).
func (c *Client) Download(ctx context.Context, url string, dst io.Writer, progress func(done, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s downloading %s", ErrUnexpectedStatus, resp.Status, url)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	var done int64
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write bundle: %w", werr)
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("download bundle: %w", err)
		}
	}
}
