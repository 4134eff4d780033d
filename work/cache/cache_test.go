package cache

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"xtream-resolver/work/metrics"
	"xtream-resolver/work/resolver"
)

var (
	session = resolver.Session{ServerBaseURL: "http://h", Username: "u", Password: "p"}
	movie   = resolver.ContentDescriptor{StreamID: "1", Kind: resolver.KindMovie}
)

func TestStore(t *testing.T) {
	s := NewStore[int]("test", 10, time.Minute)

	_, ok := s.Get("a")
	assert.False(t, ok)

	s.Set("a", 1)
	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	s.Invalidate("a")
	_, ok = s.Get("a")
	assert.False(t, ok)

	s.Set("b", 2)
	s.Clear()
	_, ok = s.Get("b")
	assert.False(t, ok)
}

func TestStoreCountsLookups(t *testing.T) {
	s := NewStore[string]("counted", 10, time.Minute)
	hits := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("counted", "hit"))
	misses := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("counted", "miss"))

	s.Get("x")
	s.Set("x", "y")
	s.Get("x")

	assert.Equal(t, hits+1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("counted", "hit")))
	assert.Equal(t, misses+1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("counted", "miss")))
}

func TestNilStoreIsEmpty(t *testing.T) {
	var s *Store[int]
	s.Set("a", 1)
	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	s.Invalidate("a")
	s.Clear()
}

func TestStoreExpires(t *testing.T) {
	s := NewStore[int]("expiring", 10, 20*time.Millisecond)
	s.Set("a", 1)

	assert.Eventually(t, func() bool {
		_, ok := s.Get("a")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveCacheSkipsFailures(t *testing.T) {
	c := NewResolveCache(true, 10, time.Minute)
	key := ResolveKey("http://h", session, movie)
	assert.True(t, c.Enabled())

	c.Put(key, resolver.ResolvedStream{URL: "http://h/movie/u/p/1.ts", Container: "ts", AttemptIndex: 3, Failure: &resolver.Failure{Reason: "x"}})
	_, ok := c.Get(key)
	assert.False(t, ok)

	good := resolver.ResolvedStream{URL: "http://h/movie/u/p/1.mp4", Container: "mp4", AttemptIndex: 1}
	c.Put(key, good)
	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, good, got)

	c.Invalidate(key)
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestResolveCacheDisabled(t *testing.T) {
	c := NewResolveCache(false, 10, time.Minute)
	key := ResolveKey("http://h", session, movie)
	assert.False(t, c.Enabled())

	c.Put(key, resolver.ResolvedStream{URL: "http://h/movie/u/p/1.mp4"})
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestResolveKeySeparatesAccounts(t *testing.T) {
	other := session
	other.Username = "v"
	assert.NotEqual(t, ResolveKey("http://h", session, movie), ResolveKey("http://h", other, movie))
	assert.NotEqual(t, ResolveKey("http://h", session, movie), ResolveKey("http://h", session, resolver.ContentDescriptor{StreamID: "1", Kind: resolver.KindSeries}))
}

func TestResolveKeySeparatesHints(t *testing.T) {
	hinted := movie
	hinted.ContainerHint = "mkv"
	assert.NotEqual(t, ResolveKey("http://h", session, movie), ResolveKey("http://h", session, hinted))

	spelled := movie
	spelled.ContainerHint = " .MKV"
	assert.Equal(t, ResolveKey("http://h", session, hinted), ResolveKey("http://h", session, spelled))
}
