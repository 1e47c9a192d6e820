package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "labreserve"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking lifecycle transitions by resulting status.",
		},
		[]string{"status"},
	)

	lockTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Lock acquisitions that gave up waiting, by operation.",
		},
		[]string{"operation"},
	)

	notificationsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_emitted_total",
			Help:      "Notification records created, by type.",
		},
		[]string{"type"},
	)

	deliveryTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_tasks_total",
			Help:      "Delivery worker task outcomes by task type.",
		},
		[]string{"task_type", "outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingTransitions, lockTimeouts, notificationsEmitted, deliveryTasks)
	})
}

// IncHTTP counts one request. status is a class such as "2xx".
func IncHTTP(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}

func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

func IncLockTimeout(operation string) {
	lockTimeouts.WithLabelValues(operation).Inc()
}

func IncNotification(notificationType string) {
	notificationsEmitted.WithLabelValues(notificationType).Inc()
}

// IncDeliveryTask records a worker outcome: completed, retry or failed.
func IncDeliveryTask(taskType, outcome string) {
	deliveryTasks.WithLabelValues(taskType, outcome).Inc()
}
