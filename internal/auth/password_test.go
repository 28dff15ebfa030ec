package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGeneratePasswordAtFormat(t *testing.T) {
	password, err := GeneratePasswordAt("1234", "JBSWY3DPEHPK3PXP", time.Unix(1609459200, 0))
	if err != nil {
		t.Fatalf("GeneratePasswordAt failed: %v", err)
	}

	if len(password) != 10 {
		t.Errorf("password length = %d, want 10", len(password))
	}
	if !strings.HasPrefix(password, "1234") {
		t.Errorf("password %q must start with the PIN", password)
	}
	for _, c := range password {
		if c < '0' || c > '9' {
			t.Errorf("password %q contains non-digit", password)
		}
	}
}

func TestGeneratePasswordAtDeterministic(t *testing.T) {
	at := time.Unix(1609459200, 0)
	a, err := GeneratePasswordAt("9999", "JBSWY3DPEHPK3PXP", at)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GeneratePasswordAt("9999", "JBSWY3DPEHPK3PXP", at)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("same instant produced different passwords: %q vs %q", a, b)
	}
}

func TestValidatePIN(t *testing.T) {
	for _, pin := range []string{"1234", "0000", "9999"} {
		if err := ValidatePIN(pin); err != nil {
			t.Errorf("ValidatePIN(%q) = %v, want nil", pin, err)
		}
	}
	for _, pin := range []string{"", "123", "12345", "12ab", "12@4", "12 4"} {
		if err := ValidatePIN(pin); err == nil {
			t.Errorf("ValidatePIN(%q) = nil, want error", pin)
		}
	}
}

type mapStore struct {
	pins    map[string]string
	secrets map[string]string
}

var errNotFound = errors.New("not found")

func (s mapStore) PIN(username string) (string, error) {
	pin, ok := s.pins[username]
	if !ok {
		return "", errNotFound
	}
	return pin, nil
}

func (s mapStore) OTPSecret(username string) (string, error) {
	secret, ok := s.secrets[username]
	if !ok {
		return "", errNotFound
	}
	return secret, nil
}

func TestGeneratePasswordFromStore(t *testing.T) {
	store := mapStore{
		pins:    map[string]string{"alex": "4321"},
		secrets: map[string]string{"alex": "JBSWY3DPEHPK3PXP"},
	}

	password, err := GeneratePassword(store, "alex")
	if err != nil {
		t.Fatalf("GeneratePassword failed: %v", err)
	}
	if len(password) != 10 || !strings.HasPrefix(password, "4321") {
		t.Errorf("password %q malformed", password)
	}
}

func TestGeneratePasswordMissingCredentials(t *testing.T) {
	store := mapStore{pins: map[string]string{}, secrets: map[string]string{}}
	if _, err := GeneratePassword(store, "nobody"); !errors.Is(err, errNotFound) {
		t.Fatalf("expected wrapped not-found error, got %v", err)
	}
}
