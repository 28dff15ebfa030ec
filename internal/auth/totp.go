// Package auth derives the VPN credential: a time-based one-time code
// (RFC 6238) generated from a stored secret, appended to a numeric PIN.
package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash"
	"strings"
	"time"
)

// Algorithm selects the HMAC hash for code generation. SHA1 is the RFC 6238
// default and what F5 deployments use.
type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "sha1"
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmSHA512 Algorithm = "sha512"
)

// timeStep is the RFC 6238 default period.
const timeStep = 30 * time.Second

// DefaultDigits is the standard authenticator code length.
const DefaultDigits = 6

// ValidateBase32Secret checks that a secret is well-formed RFC 4648 base32:
// uppercase letters, digits 2-7, optional trailing padding.
func ValidateBase32Secret(secret string) error {
	if secret == "" {
		return fmt.Errorf("secret is empty")
	}
	trimmed := strings.TrimRight(secret, "=")
	for _, c := range trimmed {
		valid := (c >= 'A' && c <= 'Z') || (c >= '2' && c <= '7')
		if !valid {
			return fmt.Errorf("secret is not valid base32: unexpected character %q", c)
		}
	}
	if _, err := decodeSecret(secret); err != nil {
		return fmt.Errorf("secret is not valid base32: %w", err)
	}
	return nil
}

func decodeSecret(secret string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(secret, "="))
}

// GenerateTOTP produces a zero-padded numeric code for the given instant.
func GenerateTOTP(secret string, alg Algorithm, digits int, at time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", fmt.Errorf("secret is not valid base32: %w", err)
	}
	if digits < 6 || digits > 10 {
		return "", fmt.Errorf("invalid code length %d", digits)
	}

	var newHash func() hash.Hash
	switch alg {
	case AlgorithmSHA1, "":
		newHash = sha1.New
	case AlgorithmSHA256:
		newHash = sha256.New
	case AlgorithmSHA512:
		newHash = sha512.New
	default:
		return "", fmt.Errorf("unsupported algorithm %q", alg)
	}

	counter := uint64(at.Unix()) / uint64(timeStep/time.Second)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(newHash, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation (RFC 4226 §5.3).
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, code%mod), nil
}

// GenerateCode produces a standard 6-digit SHA1 code for the current time.
func GenerateCode(secret string) (string, error) {
	if err := ValidateBase32Secret(secret); err != nil {
		return "", err
	}
	return GenerateTOTP(secret, AlgorithmSHA1, DefaultDigits, time.Now())
}
