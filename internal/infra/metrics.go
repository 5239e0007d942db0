package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	InvitationsIssued  prometheus.Counter
	InvitationConsumes *prometheus.CounterVec
	Joins              *prometheus.CounterVec
	AdmissionDenied    prometheus.Counter
	ConsistencyFaults  prometheus.Counter
	RequestDuration    *prometheus.HistogramVec
}

// NewMetrics registers the service collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvitationsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "club_invitations_issued_total",
			Help: "Invitations issued.",
		}),
		InvitationConsumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "club_invitation_consume_total",
			Help: "Invitation consume attempts by result.",
		}, []string{"result"}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "club_joins_total",
			Help: "Completed joins by kind (direct, transfer).",
		}, []string{"kind"}),
		AdmissionDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "club_admission_denied_total",
			Help: "Gated resource creations refused by plan limits.",
		}),
		ConsistencyFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "club_consistency_faults_total",
			Help: "Failures after an invitation was consumed and before membership was written.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "club_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	reg.MustRegister(m.InvitationsIssued, m.InvitationConsumes, m.Joins, m.AdmissionDenied, m.ConsistencyFaults, m.RequestDuration)
	return m
}

// NewDetachedMetrics registers on a private registry that is never exported.
func NewDetachedMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
