package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arklim/credential-policy/internal/core/domain"
	"github.com/arklim/credential-policy/internal/core/port"
)

const (
	namespace      = "credpol"
	outcomeSuccess = "success"
)

// PolicyMetrics records credential policy decisions in Prometheus.
type PolicyMetrics struct {
	logins          *prometheus.CounterVec
	lockouts        prometheus.Counter
	passwordChanges *prometheus.CounterVec
}

var _ port.PolicyMetrics = (*PolicyMetrics)(nil)

// NewPolicyMetrics registers the policy collectors with reg. A nil registerer uses the
// default Prometheus registry.
func NewPolicyMetrics(reg prometheus.Registerer) *PolicyMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PolicyMetrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome (success or rejection reason).",
		}, []string{"outcome"}),
		lockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after reaching the failed login threshold.",
		}),
		passwordChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_changes_total",
			Help:      "Password change requests by outcome (success or rejection reason).",
		}, []string{"outcome"}),
	}
}

// ObserveLogin implements port.PolicyMetrics.
func (m *PolicyMetrics) ObserveLogin(reason domain.FailureReason, justLocked bool) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome(reason)).Inc()
	if justLocked {
		m.lockouts.Inc()
	}
}

// ObservePasswordChange implements port.PolicyMetrics.
func (m *PolicyMetrics) ObservePasswordChange(reason domain.FailureReason) {
	if m == nil {
		return
	}
	m.passwordChanges.WithLabelValues(outcome(reason)).Inc()
}

func outcome(reason domain.FailureReason) string {
	if reason == domain.ReasonNone {
		return outcomeSuccess
	}
	return string(reason)
}
