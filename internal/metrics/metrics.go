// ABOUTME: Prometheus collectors for notifications, token requests, and sign-in
// ABOUTME: Implements the recorder interfaces the other packages declare

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coven_notifier"

// Collector records service metrics into a Prometheus registry.
type Collector struct {
	notifications     *prometheus.CounterVec
	tokenRequests     *prometheus.CounterVec
	signInTransitions *prometheus.CounterVec
	activities        *prometheus.CounterVec
	duplicates        prometheus.Counter
	directoryLatency  *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Proactive notification attempts by outcome.",
		}, []string{"outcome"}),
		tokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_requests_total",
			Help:      "Identity provider token requests by flow and result.",
		}, []string{"flow", "result"}),
		signInTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signin_transitions_total",
			Help:      "Sign-in state transitions by target state.",
		}, []string{"to"}),
		activities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_total",
			Help:      "Inbound activities by type.",
		}, []string{"type"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_activities_total",
			Help:      "Inbound activities dropped as redeliveries.",
		}),
		directoryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "directory_latency_seconds",
			Help:      "Directory lookup latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(
		c.notifications,
		c.tokenRequests,
		c.signInTransitions,
		c.activities,
		c.duplicates,
		c.directoryLatency,
	)

	return c
}

// RecordNotification counts a proactive notification attempt.
func (c *Collector) RecordNotification(outcome string) {
	c.notifications.WithLabelValues(outcome).Inc()
}

// RecordTokenRequest counts a token request.
func (c *Collector) RecordTokenRequest(flow, result string) {
	c.tokenRequests.WithLabelValues(flow, result).Inc()
}

// RecordSignInTransition counts a persisted sign-in transition.
func (c *Collector) RecordSignInTransition(to string) {
	c.signInTransitions.WithLabelValues(to).Inc()
}

// RecordActivity counts an inbound activity.
func (c *Collector) RecordActivity(activityType string) {
	if activityType == "" {
		activityType = "unknown"
	}
	c.activities.WithLabelValues(activityType).Inc()
}

// RecordDuplicate counts a dropped redelivery.
func (c *Collector) RecordDuplicate() {
	c.duplicates.Inc()
}

// RecordDirectoryLatency observes the duration of a directory call.
func (c *Collector) RecordDirectoryLatency(op string, d time.Duration) {
	c.directoryLatency.WithLabelValues(op).Observe(d.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
