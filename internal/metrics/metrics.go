package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	selectionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selection_requests_total",
			Help: "Total number of widget selection requests",
		},
		[]string{"outcome"}, // "ok", "not_found", "invalid_id", "error"
	)

	notificationsServed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "selection_notifications_served",
			Help:    "Eligible notifications returned per selection request",
			Buckets: []float64{0, 1, 2, 5, 10, 15, 25, 50},
		},
	)

	dedupRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "selection_dedup_removed_total",
			Help: "Notifications dropped as render-identical duplicates",
		},
	)

	targetingRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selection_targeting_removed_total",
			Help: "Notifications removed by targeting, by dimension",
		},
		[]string{"dimension"},
	)

	analyticsEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_events_total",
			Help: "Analytics events received, by type and outcome",
		},
		[]string{"event_type", "outcome"}, // outcome: "stored", "invalid", "rate_limited", "error"
	)
)

func SelectionRequest(outcome string)  { selectionRequestsTotal.WithLabelValues(outcome).Inc() }
func NotificationsServed(n int)        { notificationsServed.Observe(float64(n)) }
func DedupRemoved(n int)               { dedupRemovedTotal.Add(float64(n)) }
func TargetingRemoved(dim string, n int) {
	targetingRemovedTotal.WithLabelValues(dim).Add(float64(n))
}
func AnalyticsEvent(eventType, outcome string) {
	analyticsEventsTotal.WithLabelValues(eventType, outcome).Inc()
}
