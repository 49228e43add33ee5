// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talanoor_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talanoor_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsTotal tracks conversations created, by party type.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talanoor_chat_conversations_total",
			Help: "Total support conversations created",
		},
		[]string{"type"},
	)

	// MessagesTotal tracks messages appended, by sender side.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talanoor_chat_messages_total",
			Help: "Total support messages appended",
		},
		[]string{"side"},
	)

	// StatusChangesTotal tracks conversation status transitions.
	StatusChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talanoor_chat_status_changes_total",
			Help: "Total conversation status changes",
		},
		[]string{"status"},
	)

	// WebsocketConnectionsActive tracks open realtime connections.
	WebsocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "talanoor_chat_ws_connections_active",
			Help: "Number of active chat websocket connections",
		},
	)

	// BlogCacheEventsTotal tracks blog cache invalidation/refresh notifications, by cache.
	BlogCacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talanoor_blog_cache_events_total",
			Help: "Blog cache invalidation and refresh notifications",
		},
		[]string{"cache"},
	)

	// IndexTasksTotal tracks search indexing task outcomes.
	IndexTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talanoor_index_tasks_total",
			Help: "Message indexing tasks processed",
		},
		[]string{"result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordConversation counts a created conversation.
func RecordConversation(guest bool) {
	if guest {
		ConversationsTotal.WithLabelValues("guest").Inc()
		return
	}
	ConversationsTotal.WithLabelValues("user").Inc()
}

// RecordMessage counts an appended message.
func RecordMessage(fromUser bool) {
	if fromUser {
		MessagesTotal.WithLabelValues("user").Inc()
		return
	}
	MessagesTotal.WithLabelValues("operator").Inc()
}
