package resolver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"xtream-resolver/work/client"
	"xtream-resolver/work/logger"
	"xtream-resolver/work/metrics"
	"xtream-resolver/work/utils"
)

// maxPlaylistBytes bounds how much of a playlist is read for validation.
const maxPlaylistBytes = 1 << 20

// Prober checks that a candidate URL answers. A nil error means the candidate
// passed.
type Prober interface {
	Probe(ctx context.Context, rawURL string) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, rawURL string) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, rawURL string) error {
	return f(ctx, rawURL)
}

// ProbeError is returned when the panel answered with a non-success status.
type ProbeError struct {
	Method     string
	StatusCode int
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s returned status %d", e.Method, e.StatusCode)
}

// ProbeOptions configures HTTPProber.
type ProbeOptions struct {
	Timeout           time.Duration
	RatePerSecond     int
	ValidatePlaylists bool
	ObfuscateURLs     bool
}

// HTTPProber probes candidates with a HEAD request, falling back to a small
// ranged GET for servers that reject HEAD. Probes are rate limited per host so
// walking the candidate list never hammers a panel.
type HTTPProber struct {
	client   client.Doer
	opts     ProbeOptions
	limiters *xsync.MapOf[string, ratelimit.Limiter]
}

// NewHTTPProber builds a prober on top of the shared header-setting client.
func NewHTTPProber(c client.Doer, opts ProbeOptions) *HTTPProber {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &HTTPProber{
		client:   c,
		opts:     opts,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse candidate url: %w", err)
	}
	container := strings.TrimPrefix(path.Ext(u.Path), ".")

	p.limiterFor(u.Host).Take()

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	err = p.probe(ctx, u, container)
	switch {
	case err == nil:
		metrics.ProbesTotal.WithLabelValues(container, "ok").Inc()
	case errors.Is(ctx.Err(), context.Canceled):
		metrics.ProbesTotal.WithLabelValues(container, "canceled").Inc()
	default:
		metrics.ProbesTotal.WithLabelValues(container, "failed").Inc()
		logger.Debug("{resolver/probe - Probe} candidate failed: %s - %v", utils.LogURLWithFlag(p.opts.ObfuscateURLs, rawURL), err)
	}
	return err
}

func (p *HTTPProber) probe(ctx context.Context, u *url.URL, container string) error {
	status, err := p.head(ctx, u)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	if status != http.StatusMethodNotAllowed && status != http.StatusNotImplemented {
		return &ProbeError{Method: http.MethodHead, StatusCode: status}
	}

	return p.get(ctx, u, container)
}

func (p *HTTPProber) head(ctx context.Context, u *url.URL) (int, error) {
	req, err := p.newRequest(ctx, http.MethodHead, u)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// get fetches the first KiB of the candidate. Playlists are fetched whole (up
// to maxPlaylistBytes) so they can be parsed.
func (p *HTTPProber) get(ctx context.Context, u *url.URL, container string) error {
	req, err := p.newRequest(ctx, http.MethodGet, u)
	if err != nil {
		return err
	}
	validate := p.opts.ValidatePlaylists && container == "m3u8"
	if !validate {
		req.Header.Set("Range", "bytes=0-1023")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProbeError{Method: http.MethodGet, StatusCode: resp.StatusCode}
	}

	if !validate {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil
	}
	return validatePlaylist(io.LimitReader(resp.Body, maxPlaylistBytes))
}

func (p *HTTPProber) newRequest(ctx context.Context, method string, u *url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	// panels behind ExoPlayer-only filters check these
	origin := u.Scheme + "://" + u.Host
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", origin+"/")
	return req, nil
}

func (p *HTTPProber) limiterFor(host string) ratelimit.Limiter {
	rate := p.opts.RatePerSecond
	if rate <= 0 {
		return ratelimit.NewUnlimited()
	}
	limiter, _ := p.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		return ratelimit.New(rate)
	})
	return limiter
}

// validatePlaylist checks the body parses as an HLS master or media playlist.
// Panels answer missing streams with an HTML error page and a 200.
func validatePlaylist(r io.Reader) error {
	playlist, _, err := m3u8.DecodeFrom(bufio.NewReader(r), true)
	if err != nil {
		return fmt.Errorf("invalid playlist: %w", err)
	}
	if playlist == nil {
		return errors.New("invalid playlist: empty")
	}
	return nil
}
