package port

import "github.com/arklim/credential-policy/internal/core/domain"

// PolicyMetrics records policy decisions for observability.
type PolicyMetrics interface {
	ObserveLogin(reason domain.FailureReason, justLocked bool)
	ObservePasswordChange(reason domain.FailureReason)
}
