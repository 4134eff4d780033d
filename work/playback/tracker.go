// Package playback tracks what each player is currently showing and drives
// the retry walk when a player reports that a stream would not play.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"xtream-resolver/work/cache"
	"xtream-resolver/work/database"
	"xtream-resolver/work/logger"
	"xtream-resolver/work/metrics"
	"xtream-resolver/work/resolver"
)

// ErrUnknownPlayback is returned for an ID the tracker does not hold.
var ErrUnknownPlayback = errors.New("unknown playback")

// State is the lifecycle position of one playback.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateResolved  State = "resolved"
	// StateExhausted is terminal; the caller must start a new playback.
	StateExhausted State = "exhausted"
)

// Playback is a snapshot of one tracked playback.
type Playback struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name,omitempty"`
	Descriptor resolver.ContentDescriptor `json:"descriptor"`
	State      State                      `json:"state"`
	Stream     resolver.ResolvedStream    `json:"stream"`
	Retries    int                        `json:"retries"`
	FromCache  bool                       `json:"fromCache,omitempty"`
	StartedAt  time.Time                  `json:"startedAt"`
	UpdatedAt  time.Time                  `json:"updatedAt"`
}

// HistoryRecorder receives successfully started playbacks.
type HistoryRecorder interface {
	AddHistory(e database.HistoryEntry) error
}

type entry struct {
	// op serializes resolve work on this playback
	op sync.Mutex

	mu    sync.Mutex
	pb    Playback
	retry resolver.RetryState

	session  resolver.Session
	cacheKey string

	// ctx lives as long as the playback; Stop cancels it
	ctx    context.Context
	cancel context.CancelFunc
}

func (e *entry) snapshot() Playback {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pb
}

func (e *entry) update(fn func(pb *Playback)) Playback {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.pb)
	e.pb.UpdatedAt = time.Now()
	return e.pb
}

// operationContext returns a context canceled by either the caller or Stop.
func (e *entry) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Tracker holds every active playback. Retry state is kept per playback and
// never shared between descriptors.
type Tracker struct {
	resolver  *resolver.StreamResolver
	cache     *cache.ResolveCache
	history   HistoryRecorder
	playbacks *xsync.MapOf[string, *entry]
}

// NewTracker builds a tracker. cache and history may be nil.
func NewTracker(r *resolver.StreamResolver, c *cache.ResolveCache, history HistoryRecorder) *Tracker {
	if c == nil {
		c = cache.NewResolveCache(false, 0, 0)
	}
	return &Tracker{
		resolver:  r,
		cache:     c,
		history:   history,
		playbacks: xsync.NewMapOf[string, *entry](),
	}
}

// Start registers a playback for d and resolves it from the first
// candidate, consulting the resolution cache first. The playback is visible
// (state resolving) while the probe walk runs, so Stop can cancel it.
//
// Parameters:
//   - ctx: request context; canceling it abandons the resolution
//   - s: panel session
//   - d: what to play
//   - name: display name, recorded in history
//
// Returns:
//   - Playback: snapshot in state resolved
//   - error: validation errors, ctx errors, or context.Canceled after Stop
func (t *Tracker) Start(ctx context.Context, s resolver.Session, d resolver.ContentDescriptor, name string) (Playback, error) {
	if err := s.Validate(); err != nil {
		return Playback{}, err
	}
	if err := d.Validate(); err != nil {
		return Playback{}, err
	}

	id := uuid.NewString()
	now := time.Now()
	pctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		pb: Playback{
			ID:         id,
			Name:       name,
			Descriptor: d,
			State:      StateIdle,
			StartedAt:  now,
			UpdatedAt:  now,
		},
		session:  s,
		cacheKey: cache.ResolveKey(t.resolver.NormalizeBaseURL(s.ServerBaseURL), s, d),
		ctx:      pctx,
		cancel:   cancel,
	}

	e.op.Lock()
	defer e.op.Unlock()

	t.playbacks.Store(id, e)
	metrics.ActivePlaybacks.Inc()
	e.update(func(pb *Playback) { pb.State = StateResolving })

	stream, cached := t.cache.Get(e.cacheKey)
	if !cached {
		opCtx, done := e.operationContext(ctx)
		var err error
		stream, err = t.resolver.Resolve(opCtx, s, d, 0)
		done()
		if err != nil {
			t.drop(id)
			return Playback{}, err
		}
		t.cache.Put(e.cacheKey, stream)
	}

	if e.ctx.Err() != nil {
		return Playback{}, fmt.Errorf("playback %s stopped: %w", id, context.Canceled)
	}

	pb := e.update(func(pb *Playback) {
		pb.State = StateResolved
		pb.Stream = stream
		pb.FromCache = cached
	})

	t.recordHistory(pb)
	logger.Debug("{playback/tracker - Start} %s started %s as %s (cached=%v)", pb.ID, d.Key(), stream.Container, cached)
	return pb, nil
}

// ReportError handles a fatal player error on playback id: the cached
// resolution is dropped and the next candidate resolved. Once the retry
// budget is spent the playback becomes exhausted and every further report
// returns resolver.ErrRetriesExhausted with the last stream.
func (t *Tracker) ReportError(ctx context.Context, id string) (Playback, error) {
	e, ok := t.playbacks.Load(id)
	if !ok {
		return Playback{}, fmt.Errorf("%w: %s", ErrUnknownPlayback, id)
	}

	e.op.Lock()
	defer e.op.Unlock()

	prev := e.snapshot()
	if prev.State == StateExhausted {
		return prev, fmt.Errorf("%w: playback %s", resolver.ErrRetriesExhausted, id)
	}

	t.cache.Invalidate(e.cacheKey)
	e.update(func(pb *Playback) { pb.State = StateResolving })

	opCtx, done := e.operationContext(ctx)
	next, err := t.resolver.RetryOnPlaybackError(opCtx, e.session, prev.Descriptor, prev.Stream, &e.retry)
	done()

	switch {
	case errors.Is(err, resolver.ErrRetriesExhausted):
		pb := e.update(func(pb *Playback) {
			pb.State = StateExhausted
			pb.Retries = e.retry.Retries
		})
		logger.Warn("{playback/tracker - ReportError} %s exhausted after %d retries on %s", id, pb.Retries, prev.Descriptor.Key())
		return pb, err
	case err != nil:
		e.update(func(pb *Playback) { pb.State = prev.State })
		return e.snapshot(), err
	}

	t.cache.Put(e.cacheKey, next)
	pb := e.update(func(pb *Playback) {
		pb.State = StateResolved
		pb.Stream = next
		pb.Retries = e.retry.Retries
		pb.FromCache = false
	})
	logger.Info("{playback/tracker - ReportError} %s retry %d now on %s", id, pb.Retries, next.Container)
	return pb, nil
}

// Get returns a snapshot of playback id.
func (t *Tracker) Get(id string) (Playback, error) {
	e, ok := t.playbacks.Load(id)
	if !ok {
		return Playback{}, fmt.Errorf("%w: %s", ErrUnknownPlayback, id)
	}
	return e.snapshot(), nil
}

// List returns all playbacks, oldest first.
func (t *Tracker) List() []Playback {
	out := make([]Playback, 0, t.playbacks.Size())
	t.playbacks.Range(func(_ string, e *entry) bool {
		out = append(out, e.snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len is the number of tracked playbacks.
func (t *Tracker) Len() int {
	return t.playbacks.Size()
}

// Stop forgets playback id and cancels any probe still running for it.
func (t *Tracker) Stop(id string) error {
	if !t.drop(id) {
		return fmt.Errorf("%w: %s", ErrUnknownPlayback, id)
	}
	logger.Debug("{playback/tracker - Stop} stopped %s", id)
	return nil
}

// StopAll stops every playback, used when the session changes.
func (t *Tracker) StopAll() {
	var ids []string
	t.playbacks.Range(func(id string, _ *entry) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		t.drop(id)
	}
}

func (t *Tracker) drop(id string) bool {
	e, ok := t.playbacks.LoadAndDelete(id)
	if !ok {
		return false
	}
	e.cancel()
	metrics.ActivePlaybacks.Dec()
	return true
}

func (t *Tracker) recordHistory(pb Playback) {
	if t.history == nil {
		return
	}
	err := t.history.AddHistory(database.HistoryEntry{
		Name:     pb.Name,
		Kind:     pb.Descriptor.Kind,
		StreamID: pb.Descriptor.StreamID,
		URL:      pb.Stream.URL,
		PlayedAt: pb.StartedAt,
	})
	if err != nil {
		logger.Warn("{playback/tracker - recordHistory} failed to record %s: %v", pb.Descriptor.Key(), err)
	}
}
