package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roadbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	checkoutsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_started_total",
			Help:      "Payment sessions requested by booking type.",
		},
		[]string{"booking_type"},
	)

	paymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment provider events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	accessResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_resolutions_total",
			Help:      "Roadbook link resolutions by content source.",
		},
		[]string{"source"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Outbound emails by template and outcome.",
		},
		[]string{"template", "outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, checkoutsStarted, paymentEvents, accessResolutions, notificationsSent)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncCheckout(bookingType string) {
	checkoutsStarted.WithLabelValues(bookingType).Inc()
}

func IncPaymentEvent(eventType, outcome string) {
	paymentEvents.WithLabelValues(eventType, outcome).Inc()
}

func IncAccessResolution(source string) {
	accessResolutions.WithLabelValues(source).Inc()
}

func IncNotification(template, outcome string) {
	notificationsSent.WithLabelValues(template, outcome).Inc()
}
