package client

import (
	"net/http"
	"time"

	"xtream-resolver/work/config"
)

// Doer is the part of an HTTP client the panel and probe code depends on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HeaderSettingClient wraps http.Client to automatically set headers
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the shared client. Per-request deadlines come
// from the caller's context, so the client itself has no overall timeout.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second,
		},
		// panels commonly bounce stream URLs to a load balancer; keep following
		// but cap the chain
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

// Do sends req with the configured default headers.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	ua := config.DefaultUserAgent
	if hsc.config != nil && hsc.config.UserAgent != "" {
		ua = hsc.config.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Connection", "keep-alive")
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}

	if hsc.config == nil {
		return
	}
	if hsc.config.ReqOrigin != "" && req.Header.Get("Origin") == "" {
		req.Header.Set("Origin", hsc.config.ReqOrigin)
	}
	if hsc.config.ReqReferrer != "" && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", hsc.config.ReqReferrer)
	}
}
