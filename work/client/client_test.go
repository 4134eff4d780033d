package client

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtream-resolver/work/config"
)

func TestHeaderSettingClientSetsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	c := NewHeaderSettingClient(&config.Config{UserAgent: "test-agent", ReqReferrer: "http://ref/"})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "test-agent", got.Get("User-Agent"))
	assert.Equal(t, "*/*", got.Get("Accept"))
	assert.Equal(t, "http://ref/", got.Get("Referer"))
	assert.Empty(t, got.Get("Origin"))
}

func TestDoKeepsRequestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	c := NewHeaderSettingClient(&config.Config{ReqOrigin: "http://configured", ReqReferrer: "http://configured/"})
	req, err := http.NewRequest(http.MethodHead, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://origin")
	req.Header.Set("Referer", "http://origin/")

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, config.DefaultUserAgent, got.Get("User-Agent"))
	assert.Equal(t, "http://origin", got.Get("Origin"))
	assert.Equal(t, "http://origin/", got.Get("Referer"))
}
