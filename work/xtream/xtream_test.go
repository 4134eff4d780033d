package xtream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtream-resolver/work/client"
	"xtream-resolver/work/resolver"
)

// fakePanel answers player_api.php like a small Xtream panel with user "u"
// and password "p".
type fakePanel struct {
	failActions map[string]bool
}

func (f *fakePanel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/player_api.php") && !strings.HasSuffix(r.URL.Path, "/api.php") {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	action := q.Get("action")
	if f.failActions[action] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if q.Get("username") != "u" || q.Get("password") != "p" {
		_, _ = w.Write([]byte(`{"user_info":{"auth":0,"status":"Disabled"}}`))
		return
	}

	var body string
	switch action {
	case "":
		body = `{"user_info":{"username":"u","auth":1,"status":"Active","exp_date":null,"max_connections":"1"},"server_info":{"url":"panel","port":"8080"}}`
	case "get_live_categories":
		body = `[{"category_id":"1","category_name":"News","parent_id":0}]`
	case "get_vod_categories":
		body = `[{"category_id":10,"category_name":"Action","parent_id":"0"}]`
	case "get_series_categories":
		body = `[{"category_id":"20","category_name":"Drama"}]`
	case "get_live_streams":
		if q.Get("category_id") == "1" {
			body = `[{"num":1,"name":"News 24","stream_id":101,"category_id":"1","stream_icon":"http://img/1.png"}]`
		} else {
			body = `[{"num":1,"name":"News 24","stream_id":101,"category_id":"1"},{"num":2,"name":"Sport","stream_id":"102","category_id":"2"}]`
		}
	case "get_vod_streams":
		body = `[{"num":1,"name":"Heat","stream_id":201,"category_id":"10","container_extension":"mkv","rating":7.5}]`
	case "get_series":
		body = `[{"num":1,"name":"The Wire","series_id":301,"category_id":"20","cover":"http://img/w.png","plot":"Baltimore"}]`
	case "get_series_info":
		if q.Get("series_id") != "301" {
			body = `{"info":{},"episodes":[]}`
			break
		}
		body = `{"info":{"name":"The Wire"},"seasons":[{"season_number":1,"name":"Season 1"}],
			"episodes":{"2":[{"id":"5002","episode_num":1,"title":"S2E1","container_extension":"mp4","season":2}],
			"1":[{"id":"5001","episode_num":"2","title":"","container_extension":"mkv","season":1},
			     {"id":"5000","episode_num":1,"title":"The Target","container_extension":"mkv","season":1}]}}`
	default:
		body = `[]`
	}
	_, _ = w.Write([]byte(body))
}

func newTestClient() *Client {
	return New(client.NewHeaderSettingClient(nil), Options{Timeout: 2 * time.Second})
}

func TestFlexTypes(t *testing.T) {
	var v struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
		C FlexString `json:"c"`
		D FlexInt    `json:"d"`
		E FlexInt    `json:"e"`
		F FlexInt    `json:"f"`
		G FlexInt    `json:"g"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":123,"b":"x","c":null,"d":"1","e":true,"f":2.0,"g":""}`), &v))
	assert.Equal(t, FlexString("123"), v.A)
	assert.Equal(t, FlexString("x"), v.B)
	assert.Equal(t, FlexString(""), v.C)
	assert.Equal(t, FlexInt(1), v.D)
	assert.Equal(t, FlexInt(1), v.E)
	assert.Equal(t, FlexInt(2), v.F)
	assert.Equal(t, FlexInt(0), v.G)

	var bad FlexInt
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &bad))
}

func TestEpisodeMapArrayForm(t *testing.T) {
	var info SeriesInfo
	require.NoError(t, json.Unmarshal([]byte(`{"episodes":[[{"id":"1","episode_num":1}],[{"id":"2","episode_num":1,"season":3}]]}`), &info))
	assert.Equal(t, []string{"1", "3"}, info.Episodes.SeasonNumbers())
	assert.Equal(t, FlexString("2"), info.Episodes["3"][0].ID)
}

func TestAuthenticate(t *testing.T) {
	srv := httptest.NewServer(&fakePanel{})
	defer srv.Close()
	c := newTestClient()
	ctx := context.Background()

	session, auth, err := c.Authenticate(ctx, srv.URL+"/player_api.php?username=x", "u", "p")
	require.NoError(t, err)
	assert.Equal(t, srv.URL, session.ServerBaseURL)
	assert.Equal(t, "u", session.Username)
	assert.Equal(t, "Active", auth.UserInfo.Status)

	_, _, err = c.Authenticate(ctx, srv.URL, "u", "wrong")
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, _, err = c.Authenticate(ctx, "", "u", "p")
	assert.ErrorIs(t, err, resolver.ErrInvalidSession)
}

func TestAuthenticateFallsBackToHTTP(t *testing.T) {
	srv := httptest.NewServer(&fakePanel{})
	defer srv.Close()

	// no scheme: https is tried first and fails against a plain listener
	hostPort := strings.TrimPrefix(srv.URL, "http://")
	session, _, err := newTestClient().Authenticate(context.Background(), hostPort, "u", "p")
	require.NoError(t, err)
	assert.Equal(t, srv.URL, session.ServerBaseURL)
}

func TestAuthenticateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, _, err := newTestClient().Authenticate(context.Background(), srv.URL, "u", "p")
	assert.ErrorIs(t, err, ErrPanelUnavailable)
}

func TestListings(t *testing.T) {
	srv := httptest.NewServer(&fakePanel{})
	defer srv.Close()
	c := newTestClient()
	ctx := context.Background()
	s := resolver.Session{ServerBaseURL: srv.URL + "/", Username: "u", Password: "p"}

	cats, err := c.Categories(ctx, s, resolver.KindMovie)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, FlexString("10"), cats[0].ID)

	live, err := c.Items(ctx, s, resolver.KindLive, "1")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "101", live[0].StreamID)
	assert.Equal(t, resolver.ContentDescriptor{StreamID: "101", Kind: resolver.KindLive}, live[0].Descriptor())

	movies, err := c.Items(ctx, s, resolver.KindMovie, "")
	require.NoError(t, err)
	require.Len(t, movies, 1)
	assert.Equal(t, "mkv", movies[0].Descriptor().ContainerHint)
	assert.Equal(t, "7.5", movies[0].Rating)

	_, err = c.Items(ctx, s, "radio", "")
	assert.ErrorIs(t, err, resolver.ErrInvalidDescriptor)
}

func TestEpisodes(t *testing.T) {
	srv := httptest.NewServer(&fakePanel{})
	defer srv.Close()
	s := resolver.Session{ServerBaseURL: srv.URL, Username: "u", Password: "p"}

	eps, err := newTestClient().Episodes(context.Background(), s, "301")
	require.NoError(t, err)
	require.Len(t, eps, 3)

	assert.Equal(t, "5000", eps[0].StreamID)
	assert.Equal(t, "The Target", eps[0].Name)
	assert.Equal(t, "5001", eps[1].StreamID)
	assert.Equal(t, "The Wire E2", eps[1].Name)
	assert.Equal(t, "5002", eps[2].StreamID)
	assert.Equal(t, 2, eps[2].Season)
	assert.Equal(t, resolver.KindSeries, eps[2].Kind)
	assert.Equal(t, "mp4", eps[2].ContainerExtension)

	empty, err := newTestClient().Episodes(context.Background(), s, "999")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = newTestClient().Episodes(context.Background(), s, "")
	assert.ErrorIs(t, err, resolver.ErrInvalidDescriptor)
}

func TestListingHTTPError(t *testing.T) {
	srv := httptest.NewServer(&fakePanel{failActions: map[string]bool{"get_vod_streams": true}})
	defer srv.Close()
	s := resolver.Session{ServerBaseURL: srv.URL, Username: "u", Password: "p"}

	_, err := newTestClient().VODStreams(context.Background(), s, "")
	assert.ErrorIs(t, err, ErrPanelUnavailable)
}

func TestLoadCatalog(t *testing.T) {
	srv := httptest.NewServer(&fakePanel{failActions: map[string]bool{"get_series": true}})
	defer srv.Close()

	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	s := resolver.Session{ServerBaseURL: srv.URL, Username: "u", Password: "p"}
	catalog, err := newTestClient().LoadCatalog(context.Background(), pool, s)
	require.NoError(t, err)

	assert.Len(t, catalog.Items[resolver.KindLive], 2)
	assert.Len(t, catalog.Items[resolver.KindMovie], 1)
	assert.Empty(t, catalog.Items[resolver.KindSeries])
	assert.Len(t, catalog.Categories[resolver.KindSeries], 1)
	assert.Equal(t, "Action", catalog.CategoryName(resolver.KindMovie, "10"))
	assert.Equal(t, "", catalog.CategoryName(resolver.KindMovie, "404"))
	assert.False(t, catalog.LoadedAt.IsZero())
}

func TestLoadCatalogAllFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	s := resolver.Session{ServerBaseURL: srv.URL, Username: "u", Password: "p"}
	_, err = newTestClient().LoadCatalog(context.Background(), pool, s)
	assert.ErrorIs(t, err, ErrPanelUnavailable)
}
