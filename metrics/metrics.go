// Package metrics exposes Prometheus collectors for the SMTP server.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "smtpd"

// Metrics groups the server's collectors.
type Metrics struct {
	SessionsTotal      prometheus.Counter
	SessionsActive     prometheus.Gauge
	Commands           *prometheus.CounterVec
	Replies            *prometheus.CounterVec
	MessagesDelivered  prometheus.Counter
	DeliveryFailures   prometheus.Counter
	RecipientsRejected prometheus.Counter
	MessageBytes       prometheus.Histogram
	LookupDuration     *prometheus.HistogramVec
	DeliveryDuration   *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Number of SMTP sessions accepted.",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of SMTP sessions currently open.",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands received, by verb.",
		}, []string{"verb"}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies sent, by status code.",
		}, []string{"code"}),
		MessagesDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages handed to the mail store successfully.",
		}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Messages the mail store refused.",
		}),
		RecipientsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recipients_rejected_total",
			Help:      "RCPT commands rejected by the user directory.",
		}),
		MessageBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_bytes",
			Help:      "Size of delivered message bodies.",
			Buckets:   prometheus.ExponentialBuckets(512, 4, 8),
		}),
		LookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "directory_lookup_duration_seconds",
			Help:      "User directory lookups, by result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_delivery_duration_seconds",
			Help:      "Mail store deliveries, by result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// Command counts one received command. Unknown verbs should be passed as
// "unknown" to keep label cardinality bounded.
func (m *Metrics) Command(verb string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(verb).Inc()
}

func (m *Metrics) Reply(code int) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) Delivered(size int) {
	if m == nil {
		return
	}
	m.MessagesDelivered.Inc()
	m.MessageBytes.Observe(float64(size))
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

func (m *Metrics) RecipientRejected() {
	if m == nil {
		return
	}
	m.RecipientsRejected.Inc()
}
