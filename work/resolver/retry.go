package resolver

import (
	"context"
	"fmt"

	"xtream-resolver/work/logger"
	"xtream-resolver/work/metrics"
)

// RetryOnPlaybackError is called when the player reports a fatal error for
// previous. It resolves again starting at the next candidate. Running off the
// end of the list wraps to index 0 once; a second wrap, or spending the
// retry budget in state, returns ErrRetriesExhausted. state is updated in
// place and may be nil for a one-off retry.
func (r *StreamResolver) RetryOnPlaybackError(ctx context.Context, s Session, d ContentDescriptor, previous ResolvedStream, state *RetryState) (ResolvedStream, error) {
	if state == nil {
		state = &RetryState{}
	}

	_, candidates, err := r.prepare(s, d)
	if err != nil {
		return ResolvedStream{}, err
	}

	if state.Retries >= r.opts.MaxRetries {
		metrics.PlaybackRetries.WithLabelValues(string(d.Kind), "exhausted").Inc()
		return previous, fmt.Errorf("%w: %d of %d retries used for %s", ErrRetriesExhausted, state.Retries, r.opts.MaxRetries, d.Key())
	}

	next := previous.AttemptIndex + 1
	wrapped := state.Wrapped
	if next >= len(candidates) {
		if wrapped {
			metrics.PlaybackRetries.WithLabelValues(string(d.Kind), "exhausted").Inc()
			return previous, fmt.Errorf("%w: candidate list already cycled for %s", ErrRetriesExhausted, d.Key())
		}
		wrapped = true
		next = 0
	}

	logger.Info("{resolver/retry - RetryOnPlaybackError} playback failed for %s on %s, retry %d/%d from %s", d.Key(), previous.Container, state.Retries+1, r.opts.MaxRetries, candidates[next])

	// a retry that never produced a stream does not spend budget
	stream, err := r.Resolve(ctx, s, d, next)
	if err != nil {
		return ResolvedStream{}, err
	}
	state.Retries++
	state.Wrapped = wrapped
	metrics.PlaybackRetries.WithLabelValues(string(d.Kind), "retried").Inc()

	return stream, nil
}
