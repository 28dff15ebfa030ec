package auth

import (
	"fmt"
	"time"
)

// CredentialStore supplies the stored PIN and OTP secret for a user. The
// production implementation sits on the system keyring.
type CredentialStore interface {
	PIN(username string) (string, error)
	OTPSecret(username string) (string, error)
}

// ValidatePIN checks the F5 PIN format: exactly four ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) != 4 {
		return fmt.Errorf("PIN must be exactly 4 digits")
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return fmt.Errorf("PIN must contain only digits")
		}
	}
	return nil
}

// GeneratePassword derives the full VPN password for username: the stored
// 4-digit PIN followed by a fresh 6-digit code, 10 digits total. The result
// is handed opaquely to the supervisor and never logged.
func GeneratePassword(store CredentialStore, username string) (string, error) {
	pin, err := store.PIN(username)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve PIN: %w", err)
	}
	secret, err := store.OTPSecret(username)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve OTP secret: %w", err)
	}
	return GeneratePasswordAt(pin, secret, time.Now())
}

// GeneratePasswordAt derives the password from explicit credentials at a
// fixed instant.
func GeneratePasswordAt(pin, secret string, at time.Time) (string, error) {
	if err := ValidatePIN(pin); err != nil {
		return "", err
	}
	if err := ValidateBase32Secret(secret); err != nil {
		return "", err
	}
	code, err := GenerateTOTP(secret, AlgorithmSHA1, DefaultDigits, at)
	if err != nil {
		return "", err
	}
	return pin + code, nil
}
