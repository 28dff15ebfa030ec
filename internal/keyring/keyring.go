// Package keyring stores the VPN credentials (PIN and OTP secret) in the
// operating system's secret store.
package keyring

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "akon-vpn"

const (
	pinSuffix    = "pin"
	secretSuffix = "otp-secret"
)

// ErrNotFound is returned when no credential is stored for a user.
var ErrNotFound = errors.New("credential not found in keyring")

// Store is an explicit handle to the system secret store. It satisfies
// auth.CredentialStore. A Store is injected into callers; there is no
// package-level instance.
type Store struct {
	ring keyring.Keyring
}

// Open connects to the platform secret store.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,      // macOS Keychain
			keyring.SecretServiceBackend, // Linux Secret Service (GNOME Keyring, KWallet)
			keyring.WinCredBackend,       // Windows Credential Manager
			keyring.PassBackend,          // Pass (password-store.org)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

func key(username, suffix string) string {
	return username + "/" + suffix
}

func (s *Store) get(k string) (string, error) {
	item, err := s.ring.Get(k)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read keyring entry: %w", err)
	}
	return string(item.Data), nil
}

func (s *Store) set(k, value string) error {
	if err := s.ring.Set(keyring.Item{Key: k, Data: []byte(value)}); err != nil {
		return fmt.Errorf("failed to write keyring entry: %w", err)
	}
	return nil
}

func (s *Store) remove(k string) error {
	err := s.ring.Remove(k)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// PIN returns the stored PIN for username.
func (s *Store) PIN(username string) (string, error) {
	return s.get(key(username, pinSuffix))
}

// SetPIN stores the PIN for username.
func (s *Store) SetPIN(username, pin string) error {
	return s.set(key(username, pinSuffix), pin)
}

// OTPSecret returns the stored base32 OTP secret for username.
func (s *Store) OTPSecret(username string) (string, error) {
	return s.get(key(username, secretSuffix))
}

// SetOTPSecret stores the base32 OTP secret for username.
func (s *Store) SetOTPSecret(username, secret string) error {
	return s.set(key(username, secretSuffix), secret)
}

// HasCredentials reports whether both PIN and OTP secret exist for username.
func (s *Store) HasCredentials(username string) bool {
	if _, err := s.PIN(username); err != nil {
		return false
	}
	if _, err := s.OTPSecret(username); err != nil {
		return false
	}
	return true
}

// Delete removes both credentials for username. Missing entries are not an
// error so setup can be re-run cleanly.
func (s *Store) Delete(username string) error {
	var firstErr error
	for _, suffix := range []string{pinSuffix, secretSuffix} {
		if err := s.remove(key(username, suffix)); err != nil && !errors.Is(err, ErrNotFound) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
