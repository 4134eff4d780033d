package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtream-resolver/work/cache"
	"xtream-resolver/work/database"
	"xtream-resolver/work/metrics"
	"xtream-resolver/work/resolver"
)

type fakeHistory struct {
	mu      sync.Mutex
	entries []database.HistoryEntry
}

func (f *fakeHistory) AddHistory(e database.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

var (
	session = resolver.Session{ServerBaseURL: "http://panel:8080", Username: "u", Password: "p"}
	live    = resolver.ContentDescriptor{StreamID: "123", Kind: resolver.KindLive}
	movie   = resolver.ContentDescriptor{StreamID: "77", Kind: resolver.KindMovie}
)

func newResolver(p resolver.Prober) *resolver.StreamResolver {
	return resolver.New(resolver.Options{Prober: p, ProbeEnabled: true, MaxRetries: 2})
}

func okProber(calls *atomic.Int32) resolver.Prober {
	return resolver.ProberFunc(func(ctx context.Context, rawURL string) error {
		calls.Add(1)
		return nil
	})
}

func TestStartRecordsHistory(t *testing.T) {
	var calls atomic.Int32
	history := &fakeHistory{}
	tr := NewTracker(newResolver(okProber(&calls)), nil, history)

	before := testutil.ToFloat64(metrics.ActivePlaybacks)
	pb, err := tr.Start(context.Background(), session, live, "News 24")
	require.NoError(t, err)

	assert.NotEmpty(t, pb.ID)
	assert.Equal(t, StateResolved, pb.State)
	assert.Equal(t, "http://panel:8080/live/u/p/123.m3u8", pb.Stream.URL)
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ActivePlaybacks))

	require.Len(t, history.entries, 1)
	assert.Equal(t, "News 24", history.entries[0].Name)
	assert.Equal(t, pb.Stream.URL, history.entries[0].URL)

	require.NoError(t, tr.Stop(pb.ID))
	assert.Equal(t, before, testutil.ToFloat64(metrics.ActivePlaybacks))
	_, err = tr.Get(pb.ID)
	assert.ErrorIs(t, err, ErrUnknownPlayback)
	assert.ErrorIs(t, tr.Stop(pb.ID), ErrUnknownPlayback)
}

func TestReportErrorWalksThenExhausts(t *testing.T) {
	var calls atomic.Int32
	tr := NewTracker(newResolver(okProber(&calls)), nil, nil)

	pb, err := tr.Start(context.Background(), session, live, "")
	require.NoError(t, err)
	assert.Equal(t, "m3u8", pb.Stream.Container)

	pb, err = tr.ReportError(context.Background(), pb.ID)
	require.NoError(t, err)
	assert.Equal(t, "ts", pb.Stream.Container)
	assert.Equal(t, 1, pb.Retries)

	pb, err = tr.ReportError(context.Background(), pb.ID)
	require.NoError(t, err)
	assert.Equal(t, "mp4", pb.Stream.Container)
	assert.Equal(t, 2, pb.Retries)

	pb, err = tr.ReportError(context.Background(), pb.ID)
	assert.ErrorIs(t, err, resolver.ErrRetriesExhausted)
	assert.Equal(t, StateExhausted, pb.State)
	assert.Equal(t, "mp4", pb.Stream.Container, "last stream is kept")

	// exhausted is terminal
	pb, err = tr.ReportError(context.Background(), pb.ID)
	assert.ErrorIs(t, err, resolver.ErrRetriesExhausted)
	assert.Equal(t, StateExhausted, pb.State)
	assert.Equal(t, 2, pb.Retries)

	_, err = tr.ReportError(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownPlayback)
}

func TestRetryStateIsPerPlayback(t *testing.T) {
	var calls atomic.Int32
	tr := NewTracker(newResolver(okProber(&calls)), nil, nil)
	ctx := context.Background()

	a, err := tr.Start(ctx, session, movie, "A")
	require.NoError(t, err)
	b, err := tr.Start(ctx, session, live, "B")
	require.NoError(t, err)

	_, err = tr.ReportError(ctx, a.ID)
	require.NoError(t, err)
	_, err = tr.ReportError(ctx, a.ID)
	require.NoError(t, err)

	got, err := tr.ReportError(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Retries)

	list := tr.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, 2, list[0].Retries)

	tr.StopAll()
	assert.Equal(t, 0, tr.Len())
}

func TestStartUsesCache(t *testing.T) {
	var calls atomic.Int32
	rc := cache.NewResolveCache(true, 10, time.Minute)
	tr := NewTracker(newResolver(okProber(&calls)), rc, nil)
	ctx := context.Background()

	first, err := tr.Start(ctx, session, movie, "")
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, int32(1), calls.Load())

	second, err := tr.Start(ctx, session, movie, "")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Stream, second.Stream)
	assert.Equal(t, int32(1), calls.Load())

	// a playback error drops the cached entry
	_, err = tr.ReportError(ctx, second.ID)
	require.NoError(t, err)
	key := cache.ResolveKey("http://panel:8080", session, movie)
	cached, ok := rc.Get(key)
	require.True(t, ok)
	assert.Equal(t, "mp4", cached.Container)
}

func TestFailedResolutionNotCached(t *testing.T) {
	rc := cache.NewResolveCache(true, 10, time.Minute)
	failing := resolver.ProberFunc(func(ctx context.Context, rawURL string) error {
		return errors.New("refused")
	})
	tr := NewTracker(newResolver(failing), rc, nil)

	pb, err := tr.Start(context.Background(), session, live, "")
	require.NoError(t, err)
	assert.Equal(t, StateResolved, pb.State)
	require.NotNil(t, pb.Stream.Failure)
	assert.Equal(t, "mp4", pb.Stream.Container)

	_, ok := rc.Get(cache.ResolveKey("http://panel:8080", session, live))
	assert.False(t, ok)
}

func TestStopCancelsInFlightResolve(t *testing.T) {
	started := make(chan struct{})
	blocking := resolver.ProberFunc(func(ctx context.Context, rawURL string) error {
		if strings.HasSuffix(rawURL, ".m3u8") {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	})
	tr := NewTracker(newResolver(blocking), nil, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := tr.Start(context.Background(), session, live, "")
		errc <- err
	}()

	<-started
	list := tr.List()
	require.Len(t, list, 1)
	assert.Equal(t, StateResolving, list[0].State)
	require.NoError(t, tr.Stop(list[0].ID))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, 0, tr.Len())
}

func TestStartRejectsInvalidInput(t *testing.T) {
	var calls atomic.Int32
	tr := NewTracker(newResolver(okProber(&calls)), nil, nil)

	_, err := tr.Start(context.Background(), resolver.Session{}, live, "")
	assert.ErrorIs(t, err, resolver.ErrInvalidSession)

	_, err = tr.Start(context.Background(), session, resolver.ContentDescriptor{Kind: resolver.KindLive}, "")
	assert.ErrorIs(t, err, resolver.ErrInvalidDescriptor)

	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, int32(0), calls.Load())
}
