// Package resolver maps an Xtream session and a catalog item to a playable
// stream URL. Panels disagree on which container they serve for the same kind
// of content, so the resolver walks a fixed preference list of extensions,
// probes each candidate and falls back to a best guess when none answers.
package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSession is returned when base URL or credentials are missing.
	ErrInvalidSession = errors.New("invalid session")

	// ErrInvalidDescriptor is returned for an empty stream ID or unknown kind.
	ErrInvalidDescriptor = errors.New("invalid content descriptor")

	// ErrRetriesExhausted is the terminal playback failure: the retry budget
	// for the descriptor is spent or the candidate list already wrapped once.
	ErrRetriesExhausted = errors.New("playback retries exhausted")
)

// Kind is the content family; it selects both the URL path segment and the
// candidate container list.
type Kind string

const (
	KindLive   Kind = "live"
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
)

// ParseKind accepts the kind names plus the panel's own aliases
// ("vod", "movies", "episode", "tv") case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live", "tv", "channel":
		return KindLive, nil
	case "movie", "movies", "vod":
		return KindMovie, nil
	case "series", "episode", "episodes":
		return KindSeries, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, s)
}

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLive, KindMovie, KindSeries:
		return true
	}
	return false
}

// Session is what a successful panel login yields. The resolver only reads it.
type Session struct {
	ServerBaseURL string `json:"serverBaseUrl"`
	Username      string `json:"username"`
	Password      string `json:"password"`
}

// Validate rejects sessions the resolver cannot build URLs from.
func (s Session) Validate() error {
	switch {
	case strings.TrimSpace(s.ServerBaseURL) == "":
		return fmt.Errorf("%w: missing server base URL", ErrInvalidSession)
	case s.Username == "":
		return fmt.Errorf("%w: missing username", ErrInvalidSession)
	case s.Password == "":
		return fmt.Errorf("%w: missing password", ErrInvalidSession)
	}
	return nil
}

// ContentDescriptor identifies one playable item from a catalog listing.
type ContentDescriptor struct {
	StreamID      string `json:"streamId"`
	Kind          Kind   `json:"kind"`
	ContainerHint string `json:"containerHint,omitempty"`
}

// Validate rejects descriptors without an ID or with an unknown kind.
func (d ContentDescriptor) Validate() error {
	if strings.TrimSpace(d.StreamID) == "" {
		return fmt.Errorf("%w: missing stream id", ErrInvalidDescriptor)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, d.Kind)
	}
	return nil
}

// Key identifies the descriptor within one panel, for caches and trackers.
func (d ContentDescriptor) Key() string {
	return string(d.Kind) + "/" + d.StreamID
}

// Hint is the container hint lowercased and without a leading dot.
func (d ContentDescriptor) Hint() string {
	return normalizeContainer(d.ContainerHint)
}

// Failure marks a ResolvedStream that is only a guess.
type Failure struct {
	Reason string   `json:"reason"`
	Tried  []string `json:"tried,omitempty"`
}

func (f *Failure) Error() string {
	if len(f.Tried) == 0 {
		return "stream may not play: " + f.Reason
	}
	return fmt.Sprintf("stream may not play: %s (tried %s)", f.Reason, strings.Join(f.Tried, ", "))
}

// ResolvedStream is the outcome of one resolution. A non-nil Failure means
// every candidate failed its probe and URL holds the last candidate.
type ResolvedStream struct {
	URL          string   `json:"url"`
	Container    string   `json:"container"`
	AttemptIndex int      `json:"attemptIndex"`
	Failure      *Failure `json:"failure,omitempty"`
}

// Failed reports whether the stream carries the "may not play" marker.
func (r ResolvedStream) Failed() bool {
	return r.Failure != nil
}

// RetryState is the per-descriptor retry bookkeeping a caller carries between
// RetryOnPlaybackError calls.
type RetryState struct {
	Retries int  `json:"retries"`
	Wrapped bool `json:"wrapped"`
}
