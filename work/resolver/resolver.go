package resolver

import (
	"context"
	"fmt"
	"net/url"

	"xtream-resolver/work/logger"
	"xtream-resolver/work/metrics"
	"xtream-resolver/work/utils"
)

// Options configures a StreamResolver.
type Options struct {
	// Prober checks candidates. With ProbeEnabled false (or a nil Prober)
	// the first candidate from the attempt index is returned unverified.
	Prober       Prober
	ProbeEnabled bool

	// PreferHint moves a descriptor's container hint to the front of the
	// candidate list.
	PreferHint bool

	PortPolicy PortPolicy

	// MaxRetries bounds RetryOnPlaybackError per descriptor. Negative means
	// no retries.
	MaxRetries int

	ObfuscateURLs bool
}

// StreamResolver holds no per-call state; one instance serves all
// concurrent callers.
type StreamResolver struct {
	opts Options
}

// New builds a resolver.
func New(opts Options) *StreamResolver {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.PortPolicy.Mode == "" {
		opts.PortPolicy.Mode = PortNever
	}
	return &StreamResolver{opts: opts}
}

// MaxRetries is the per-descriptor retry budget.
func (r *StreamResolver) MaxRetries() int {
	return r.opts.MaxRetries
}

// NormalizeBaseURL applies the resolver's port policy to raw.
func (r *StreamResolver) NormalizeBaseURL(raw string) string {
	return NormalizeBaseURL(raw, r.opts.PortPolicy)
}

// CandidateURL builds the URL for one candidate without probing it. It is
// used for cached resolutions and for the unverified path.
func (r *StreamResolver) CandidateURL(s Session, d ContentDescriptor, container string) string {
	return BuildURL(r.NormalizeBaseURL(s.ServerBaseURL), s, d, container)
}

// Resolve returns the first candidate from index attempt onwards that passes
// its probe. Out-of-range attempts are clamped into the list. When every
// probed candidate fails, the last candidate is returned with a Failure
// marker and a nil error. Invalid input fails before any network activity
// and a canceled ctx returns ctx.Err().
func (r *StreamResolver) Resolve(ctx context.Context, s Session, d ContentDescriptor, attempt int) (ResolvedStream, error) {
	base, candidates, err := r.prepare(s, d)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues(string(d.Kind), "invalid").Inc()
		return ResolvedStream{}, err
	}

	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(candidates) {
		attempt = len(candidates) - 1
	}

	if !r.opts.ProbeEnabled || r.opts.Prober == nil {
		metrics.ResolutionsTotal.WithLabelValues(string(d.Kind), "unverified").Inc()
		return ResolvedStream{
			URL:          BuildURL(base, s, d, candidates[attempt]),
			Container:    candidates[attempt],
			AttemptIndex: attempt,
		}, nil
	}

	tried := make([]string, 0, len(candidates)-attempt)
	for i := attempt; i < len(candidates); i++ {
		if err := ctx.Err(); err != nil {
			metrics.ResolutionsTotal.WithLabelValues(string(d.Kind), "canceled").Inc()
			return ResolvedStream{}, err
		}

		candidate := BuildURL(base, s, d, candidates[i])
		perr := r.opts.Prober.Probe(ctx, candidate)
		if perr == nil {
			logger.Debug("{resolver/resolver - Resolve} resolved %s as %s: %s", d.Key(), candidates[i], utils.LogURLWithFlag(r.opts.ObfuscateURLs, candidate))
			metrics.ResolutionsTotal.WithLabelValues(string(d.Kind), "verified").Inc()
			return ResolvedStream{URL: candidate, Container: candidates[i], AttemptIndex: i}, nil
		}
		if err := ctx.Err(); err != nil {
			metrics.ResolutionsTotal.WithLabelValues(string(d.Kind), "canceled").Inc()
			return ResolvedStream{}, err
		}
		tried = append(tried, candidates[i])
	}

	last := len(candidates) - 1
	logger.Warn("{resolver/resolver - Resolve} no candidate answered for %s (tried %v), falling back to %s", d.Key(), tried, candidates[last])
	metrics.ResolutionsTotal.WithLabelValues(string(d.Kind), "exhausted").Inc()
	return ResolvedStream{
		URL:          BuildURL(base, s, d, candidates[last]),
		Container:    candidates[last],
		AttemptIndex: last,
		Failure:      &Failure{Reason: "no candidate passed its probe", Tried: tried},
	}, nil
}

// prepare validates input and returns the normalized base and candidate list.
func (r *StreamResolver) prepare(s Session, d ContentDescriptor) (string, []string, error) {
	if err := s.Validate(); err != nil {
		return "", nil, err
	}
	if err := d.Validate(); err != nil {
		return "", nil, err
	}

	base := r.NormalizeBaseURL(s.ServerBaseURL)
	u, err := url.Parse(base)
	if err != nil || u.Hostname() == "" {
		return "", nil, fmt.Errorf("%w: unusable server base URL %q", ErrInvalidSession, s.ServerBaseURL)
	}

	return base, candidatesFor(d, r.opts.PreferHint), nil
}
