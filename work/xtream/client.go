// Package xtream talks to Xtream-Codes compatible panels: login detection,
// category and stream listings, and series episode lookup.
package xtream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"xtream-resolver/work/client"
	"xtream-resolver/work/logger"
	"xtream-resolver/work/metrics"
	"xtream-resolver/work/resolver"
	"xtream-resolver/work/utils"
)

var (
	// ErrAuthFailed is returned when a panel answered but rejected the login.
	ErrAuthFailed = errors.New("panel rejected credentials")

	// ErrPanelUnavailable is returned when no panel endpoint gave a usable answer.
	ErrPanelUnavailable = errors.New("panel unavailable")
)

// maxResponseBytes bounds a listing response. Large VOD catalogs run to tens
// of megabytes.
const maxResponseBytes = 256 << 20

// Options configures a Client.
type Options struct {
	RatePerSecond int
	Timeout       time.Duration
	PortPolicy    resolver.PortPolicy
	ObfuscateURLs bool
}

// Client is a rate-limited panel API client. It is safe for concurrent use.
type Client struct {
	http    client.Doer
	limiter ratelimit.Limiter
	opts    Options
}

// New builds a panel client on top of the shared header-setting client.
func New(doer client.Doer, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	limiter := ratelimit.NewUnlimited()
	if opts.RatePerSecond > 0 {
		limiter = ratelimit.New(opts.RatePerSecond)
	}

	return &Client{http: doer, limiter: limiter, opts: opts}
}

// Authenticate finds the endpoint a panel answers on and checks the login.
// Without an explicit scheme in serverInput it tries https before http, and
// player_api.php before api.php, stopping at the first answer with
// user_info.auth == 1. The returned session carries the working base URL.
//
// Parameters:
//   - ctx: bounds the whole detection walk
//   - serverInput: whatever the user typed as server address
//   - username, password: panel credentials
//
// Returns:
//   - resolver.Session: session with the detected base URL
//   - *AuthResponse: the panel's user and server info
//   - error: ErrAuthFailed if a panel answered and refused, ErrPanelUnavailable otherwise
func (c *Client) Authenticate(ctx context.Context, serverInput, username, password string) (resolver.Session, *AuthResponse, error) {
	if strings.TrimSpace(serverInput) == "" || username == "" || password == "" {
		return resolver.Session{}, nil, fmt.Errorf("%w: server, username and password are required", resolver.ErrInvalidSession)
	}

	normalized := resolver.NormalizeBaseURL(serverInput, c.opts.PortPolicy)
	explicit := strings.Contains(strings.TrimSpace(serverInput), "://")
	hostPart := normalized[strings.Index(normalized, "://")+3:]
	if hostPart == "" {
		return resolver.Session{}, nil, fmt.Errorf("%w: no host in %q", resolver.ErrInvalidSession, serverInput)
	}

	schemes := []string{"https", "http"}
	if explicit {
		schemes = []string{normalized[:strings.Index(normalized, "://")]}
	}

	rejected := false
	var lastErr error
	for _, scheme := range schemes {
		base := scheme + "://" + hostPart
		for _, endpoint := range []string{"player_api.php", "api.php"} {
			if err := ctx.Err(); err != nil {
				return resolver.Session{}, nil, err
			}

			query := url.Values{"username": {username}, "password": {password}}
			testURL := base + "/" + endpoint + "?" + query.Encode()
			logger.Debug("{xtream/client - Authenticate} Trying %s", utils.LogURLWithFlag(c.opts.ObfuscateURLs, testURL))

			auth, err := fetch[AuthResponse](ctx, c, "login", testURL)
			if err != nil {
				lastErr = err
				continue
			}
			if auth.UserInfo.Auth != 1 {
				rejected = true
				lastErr = fmt.Errorf("auth=%d status=%q", auth.UserInfo.Auth, auth.UserInfo.Status)
				continue
			}

			logger.Info("{xtream/client - Authenticate} Logged in to %s as %s", base, username)
			session := resolver.Session{ServerBaseURL: base, Username: username, Password: password}
			return session, &auth, nil
		}
	}

	if rejected {
		return resolver.Session{}, nil, fmt.Errorf("%w: %v", ErrAuthFailed, lastErr)
	}
	return resolver.Session{}, nil, fmt.Errorf("%w: %v", ErrPanelUnavailable, lastErr)
}

// Categories lists the categories for kind.
func (c *Client) Categories(ctx context.Context, s resolver.Session, kind resolver.Kind) ([]Category, error) {
	action, err := categoriesAction(kind)
	if err != nil {
		return nil, err
	}
	return fetch[[]Category](ctx, c, action, c.apiURL(s, action, nil))
}

// LiveStreams lists live channels, optionally narrowed to one category.
func (c *Client) LiveStreams(ctx context.Context, s resolver.Session, categoryID string) ([]LiveStream, error) {
	return fetch[[]LiveStream](ctx, c, "get_live_streams", c.apiURL(s, "get_live_streams", categoryParam(categoryID)))
}

// VODStreams lists movies, optionally narrowed to one category.
func (c *Client) VODStreams(ctx context.Context, s resolver.Session, categoryID string) ([]VODStream, error) {
	return fetch[[]VODStream](ctx, c, "get_vod_streams", c.apiURL(s, "get_vod_streams", categoryParam(categoryID)))
}

// Series lists series, optionally narrowed to one category.
func (c *Client) Series(ctx context.Context, s resolver.Session, categoryID string) ([]Series, error) {
	return fetch[[]Series](ctx, c, "get_series", c.apiURL(s, "get_series", categoryParam(categoryID)))
}

// SeriesInfo loads seasons and episodes of one series.
func (c *Client) SeriesInfo(ctx context.Context, s resolver.Session, seriesID string) (*SeriesInfo, error) {
	if strings.TrimSpace(seriesID) == "" {
		return nil, fmt.Errorf("%w: missing series id", resolver.ErrInvalidDescriptor)
	}
	info, err := fetch[SeriesInfo](ctx, c, "get_series_info", c.apiURL(s, "get_series_info", url.Values{"series_id": {seriesID}}))
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Episodes returns the episodes of a series as catalog items, ordered by
// season and episode number.
func (c *Client) Episodes(ctx context.Context, s resolver.Session, seriesID string) ([]Item, error) {
	info, err := c.SeriesInfo(ctx, s, seriesID)
	if err != nil {
		return nil, err
	}

	items := []Item{}
	for _, season := range info.Episodes.SeasonNumbers() {
		eps := info.Episodes[season]
		sort.SliceStable(eps, func(i, j int) bool { return eps[i].EpisodeNum < eps[j].EpisodeNum })
		for _, ep := range eps {
			items = append(items, ep.Item(info.Info.Name))
		}
	}
	return items, nil
}

// Items lists one kind as catalog items.
func (c *Client) Items(ctx context.Context, s resolver.Session, kind resolver.Kind, categoryID string) ([]Item, error) {
	switch kind {
	case resolver.KindLive:
		streams, err := c.LiveStreams(ctx, s, categoryID)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(streams))
		for _, st := range streams {
			items = append(items, st.Item())
		}
		return items, nil

	case resolver.KindMovie:
		streams, err := c.VODStreams(ctx, s, categoryID)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(streams))
		for _, st := range streams {
			items = append(items, st.Item())
		}
		return items, nil

	case resolver.KindSeries:
		series, err := c.Series(ctx, s, categoryID)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(series))
		for _, se := range series {
			items = append(items, se.Item())
		}
		return items, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", resolver.ErrInvalidDescriptor, kind)
}

func categoriesAction(kind resolver.Kind) (string, error) {
	switch kind {
	case resolver.KindLive:
		return "get_live_categories", nil
	case resolver.KindMovie:
		return "get_vod_categories", nil
	case resolver.KindSeries:
		return "get_series_categories", nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", resolver.ErrInvalidDescriptor, kind)
}

func categoryParam(categoryID string) url.Values {
	if categoryID == "" {
		return nil
	}
	return url.Values{"category_id": {categoryID}}
}

// apiURL builds {base}/player_api.php?username=..&password=..&action=..
func (c *Client) apiURL(s resolver.Session, action string, extra url.Values) string {
	q := url.Values{}
	q.Set("username", s.Username)
	q.Set("password", s.Password)
	q.Set("action", action)
	for k, v := range extra {
		q[k] = v
	}
	return resolver.NormalizeBaseURL(s.ServerBaseURL, c.opts.PortPolicy) + "/player_api.php?" + q.Encode()
}

// fetch performs one rate-limited GET against the panel and decodes the JSON
// body into T. action only labels logs and metrics.
func fetch[T any](ctx context.Context, c *Client, action, rawURL string) (T, error) {
	var out T

	c.limiter.Take()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		metrics.PanelRequests.WithLabelValues(action, "error").Inc()
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.PanelRequests.WithLabelValues(action, "error").Inc()
		logger.Debug("{xtream/client - fetch} %s request failed: %v", action, err)
		return out, fmt.Errorf("%w: %s request failed: %v", ErrPanelUnavailable, action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.PanelRequests.WithLabelValues(action, "http_error").Inc()
		logger.Debug("{xtream/client - fetch} %s returned HTTP %d for: %s", action, resp.StatusCode, utils.LogURLWithFlag(c.opts.ObfuscateURLs, rawURL))
		return out, fmt.Errorf("%w: %s returned HTTP %d", ErrPanelUnavailable, action, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.PanelRequests.WithLabelValues(action, "error").Inc()
		return out, fmt.Errorf("%w: failed to read %s response: %v", ErrPanelUnavailable, action, err)
	}

	if err := json.Unmarshal(body, &out); err != nil {
		metrics.PanelRequests.WithLabelValues(action, "decode_error").Inc()
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		logger.Debug("{xtream/client - fetch} Failed to parse %s response: %v (preview: %s)", action, err, preview)
		return out, fmt.Errorf("%w: failed to parse %s response: %v", ErrPanelUnavailable, action, err)
	}

	metrics.PanelRequests.WithLabelValues(action, "ok").Inc()
	logger.Debug("{xtream/client - fetch} %s: %d bytes", action, len(body))
	return out, nil
}
