package security

import (
	"fmt"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/arklim/credential-policy/internal/core/port"
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
	Score   int
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// StrengthChecker enforces a minimum zxcvbn score on new passwords.
type StrengthChecker struct {
	minScore int
}

// NewStrengthChecker returns nil when minScore disables the check, so callers can skip it.
func NewStrengthChecker(minScore int) *StrengthChecker {
	if minScore <= 0 {
		return nil
	}
	if minScore > 4 {
		minScore = 4
	}
	return &StrengthChecker{minScore: minScore}
}

// Check scores the password; userInputs (username, email) are penalised when present in it.
func (c *StrengthChecker) Check(password string, userInputs ...string) error {
	if c == nil {
		return nil
	}

	result := zxcvbn.PasswordStrength(password, userInputs)
	if result.Score >= c.minScore {
		return nil
	}

	return &PasswordValidationError{
		Code:    "weak_password",
		Message: fmt.Sprintf("password strength %d is below the required %d", result.Score, c.minScore),
		Score:   result.Score,
	}
}

var _ port.PasswordStrengthChecker = (*StrengthChecker)(nil)
