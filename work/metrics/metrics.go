package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProbesTotal counts candidate probes by container and outcome
// ("ok", "failed", "canceled").
var ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xtream_resolver_probes_total",
	Help: "Number of candidate stream probes",
}, []string{"container", "result"})

// ResolutionsTotal counts Resolve calls by kind and outcome
// ("verified", "unverified", "exhausted", "invalid", "canceled").
var ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xtream_resolver_resolutions_total",
	Help: "Number of stream resolutions",
}, []string{"kind", "outcome"})

// PlaybackRetries counts retries triggered by player errors. The "result"
// label is "retried" or "exhausted".
var PlaybackRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xtream_resolver_playback_retries_total",
	Help: "Number of playback retries",
}, []string{"kind", "result"})

// ActivePlaybacks tracks playbacks currently held by the tracker.
var ActivePlaybacks = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "xtream_resolver_active_playbacks",
	Help: "Number of tracked playbacks",
})

// PanelRequests counts panel API calls by action and outcome.
var PanelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xtream_resolver_panel_requests_total",
	Help: "Number of panel API requests",
}, []string{"action", "result"})

// CacheLookups counts cache hits and misses per named cache.
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xtream_resolver_cache_lookups_total",
	Help: "Cache lookups by cache and result",
}, []string{"cache", "result"})
