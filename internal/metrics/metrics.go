// Package metrics exposes Prometheus counters for attempt limiting and login
// outcomes. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

const namespace = "sentinel"

// Login outcomes used as the "status" label.
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
	LoginLocked  = "locked"
)

type Metrics struct {
	// OTPFailures counts rejected codes by session type.
	OTPFailures *prometheus.CounterVec
	// SessionsExhausted counts sessions whose attempts ran out.
	SessionsExhausted *prometheus.CounterVec
	// Lockouts counts identities blocked by the attempt tracker, by scope.
	Lockouts *prometheus.CounterVec
	// LoginAttempts counts password logins by outcome.
	LoginAttempts *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OTPFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_failures_total",
			Help:      "The total number of rejected one-time and TOTP codes",
		}, []string{"session_type"}),
		SessionsExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_exhausted_total",
			Help:      "The total number of sessions that ran out of attempts",
		}, []string{"session_type"}),
		Lockouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "The total number of identities blocked after repeated failures",
		}, []string{"scope"}),
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "The total number of password login attempts",
		}, []string{"status"}),
	}
}

func (m *Metrics) OTPFailed(kind domain.SessionKind) {
	if m == nil {
		return
	}
	m.OTPFailures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SessionExhausted(kind domain.SessionKind) {
	if m == nil {
		return
	}
	m.SessionsExhausted.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) LockedOut(scope domain.SessionKind) {
	if m == nil {
		return
	}
	m.Lockouts.WithLabelValues(string(scope)).Inc()
}

func (m *Metrics) Login(status string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(status).Inc()
}
