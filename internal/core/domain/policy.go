package domain

// FailureReason enumerates user-facing policy rejections. Rejections are returned as
// values and surfaced verbatim to the caller; they are never Go errors.
type FailureReason string

const (
	ReasonNone FailureReason = ""

	// Login rejections.
	ReasonInvalidCredentials     FailureReason = "invalid_credentials"
	ReasonLockedOut              FailureReason = "locked_out"
	ReasonPasswordExpired        FailureReason = "password_expired"
	ReasonPasswordChangeRequired FailureReason = "password_change_required"

	// Password change rejections.
	ReasonInvalidOldPassword    FailureReason = "invalid_old_password"
	ReasonSamePasswords         FailureReason = "same_passwords"
	ReasonSamePreviousPasswords FailureReason = "same_previous_passwords"
	ReasonConfirmationMismatch  FailureReason = "confirmation_mismatch"
	ReasonWeakPassword          FailureReason = "weak_password"
)

// Message returns the human readable text shown for a rejection.
func (r FailureReason) Message() string {
	switch r {
	case ReasonInvalidCredentials:
		return "Incorrect username or password."
	case ReasonLockedOut:
		return "Your account is temporarily locked because of too many failed login attempts."
	case ReasonPasswordExpired:
		return "Your password has expired and must be changed."
	case ReasonPasswordChangeRequired:
		return "You must change your password before signing in."
	case ReasonInvalidOldPassword:
		return "The current password is incorrect."
	case ReasonSamePasswords:
		return "The new password must differ from the current one."
	case ReasonSamePreviousPasswords:
		return "The new password matches one of your recent passwords."
	case ReasonConfirmationMismatch:
		return "The password confirmation does not match."
	case ReasonWeakPassword:
		return "The new password is too weak."
	default:
		return ""
	}
}
