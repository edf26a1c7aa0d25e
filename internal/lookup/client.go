// Package lookup is the adapter for the Truecaller number search service.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"callerbot/internal/domain"

	"github.com/nyaruka/phonenumbers"
	"github.com/tidwall/gjson"
)

const (
	DefaultEndpoint  = "https://search5-noneu.truecaller.com/v2/search"
	DefaultUserAgent = "Truecaller/11.75.5 (Android;10)"

	maxBodyBytes = 1 << 20
)

// Client implements domain.LookupClient over HTTPS. One request per call, no retries.
type Client struct {
	endpoint  string
	userAgent string
	http      *http.Client
	logger    *slog.Logger
}

type ClientConfig struct {
	Endpoint   string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client // optional, overrides Timeout
	Logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		userAgent: cfg.UserAgent,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
	}
}

// Lookup searches for q.RawNumber and returns the response rendered as HTML.
// Every failure, including a panic below this point, is returned as a Failure.
func (c *Client) Lookup(ctx context.Context, q domain.LookupQuery) (res domain.LookupResult) {
	defer func() {
		if r := recover(); r != nil {
			res = domain.LookupFailed(fmt.Errorf("lookup panic: %v", r))
		}
	}()

	markup, err := c.search(ctx, q)
	if err != nil {
		return domain.LookupFailed(err)
	}
	return domain.LookupSucceeded(markup)
}

func (c *Client) search(ctx context.Context, q domain.LookupQuery) (string, error) {
	if q.RawNumber == "" {
		return "", errors.New("empty phone number")
	}
	if q.InstallationID == "" {
		return "", errors.New("missing installation id")
	}

	national, region, err := normalize(q.RawNumber, q.Region)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("q", national)
	params.Set("countryCode", region)
	params.Set("type", "4")
	params.Set("locAddr", "")
	params.Set("placement", "SEARCHRESULTS,HISTORY,DETAILS")
	params.Set("encoding", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+q.InstallationID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("lookup response",
		"status", resp.StatusCode,
		"bytes", len(body),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("malformed response: not JSON")
	}

	return RenderHTML(string(body)), nil
}

// normalize parses raw against the region hint and returns the national
// significant number plus the region it resolved to.
func normalize(raw, region string) (national, resolved string, err error) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", "", fmt.Errorf("parse phone number: %w", err)
	}
	national = phonenumbers.GetNationalSignificantNumber(num)
	resolved = phonenumbers.GetRegionCodeForNumber(num)
	if resolved == "" || resolved == "ZZ" {
		resolved = region
	}
	return national, resolved, nil
}

// StatusError is returned for non-2xx responses from the search service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search service HTTP %d: %s", e.StatusCode, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
