// README: Prometheus collectors for matching, transitions, feeds and HTTP.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "toda", Name: "match_attempts_total", Help: "Queue match attempts by outcome"},
		[]string{"outcome"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "toda", Name: "match_latency_seconds", Help: "Queue match latency seconds",
	})
	UnresolvedRFID = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "toda", Name: "match_unresolved_rfid_total", Help: "Matches accepted without a resolvable driver id",
	})
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "toda", Name: "booking_transitions_total", Help: "Booking status transitions"},
		[]string{"to"},
	)
	CoinInsertions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "toda", Name: "coin_insertions_total", Help: "Recorded daily contributions",
	})
	FeedSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "toda", Name: "feed_subscribers", Help: "Live feed subscriptions"},
		[]string{"feed"},
	)
	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "toda", Name: "decode_failures_total", Help: "Records skipped by defensive parsing"},
		[]string{"entity"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "toda", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toda",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
