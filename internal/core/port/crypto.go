package port

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// PasswordStrengthChecker scores candidate passwords; a nil checker disables the check.
type PasswordStrengthChecker interface {
	Check(password string, userInputs ...string) error
}
