// Package observability wires tracing and domain metrics.
//
// This file exposes the Prometheus collectors for the sync machinery:
// refresh outcomes by cache tier, pending-queue depth, and booking retry
// results. HTTP traffic metrics live in the middleware package; these
// collectors cover what happens behind the handlers. Label sets are tiny
// and closed, so cardinality stays bounded.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MapRefreshes counts map refreshes by the tier that served them
	// (remote, bucket, local_scan, empty, gated).
	MapRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "map_refreshes_total",
			Help: "Total map refreshes by serving tier.",
		},
		[]string{"tier"},
	)

	// FeedLoads counts feed loads by outcome (success, network_failure,
	// other_failure).
	FeedLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_loads_total",
			Help: "Total feed loads by outcome.",
		},
		[]string{"outcome"},
	)

	// PendingBookings gauges the durable booking queue depth.
	PendingBookings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_bookings",
			Help: "Current depth of the durable booking queue.",
		},
	)

	// BookingRetries counts queue replay attempts by result (success,
	// network_failure, dead_letter).
	BookingRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_retries_total",
			Help: "Total booking queue replay attempts by result.",
		},
		[]string{"result"},
	)

	// ProfileSyncs counts pending-profile sync passes by result (success,
	// partial_failure, failure).
	ProfileSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_syncs_total",
			Help: "Total profile sync passes by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(MapRefreshes, FeedLoads, PendingBookings, BookingRetries, ProfileSyncs)
}
