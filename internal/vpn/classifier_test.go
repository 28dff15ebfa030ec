package vpn

import (
	"testing"
)

func TestClassifyDeviceConfigured(t *testing.T) {
	c := NewClassifier()

	ev := c.ClassifyLine("Connected tun0 as 10.0.1.100")
	if ev.Kind != EventDeviceConfigured {
		t.Fatalf("Kind = %q, want %q", ev.Kind, EventDeviceConfigured)
	}
	if ev.Device != "tun0" {
		t.Errorf("Device = %q, want %q", ev.Device, "tun0")
	}
	if ev.Address.String() != "10.0.1.100" {
		t.Errorf("Address = %q, want %q", ev.Address, "10.0.1.100")
	}
}

func TestClassifyFusedEstablishment(t *testing.T) {
	c := NewClassifier()

	// The F5 format reports address and live session in a single line, so it
	// upgrades directly to Connected instead of DeviceConfigured.
	ev := c.ClassifyLine("Configured as 10.10.62.228, with SSL connected and DTLS disabled")
	if ev.Kind != EventConnected {
		t.Fatalf("Kind = %q, want %q", ev.Kind, EventConnected)
	}
	if ev.Device != "tun" {
		t.Errorf("Device = %q, want default %q", ev.Device, "tun")
	}
	if ev.Address.String() != "10.10.62.228" {
		t.Errorf("Address = %q, want %q", ev.Address, "10.10.62.228")
	}
}

func TestClassifyAuthenticationPhase(t *testing.T) {
	c := NewClassifier()

	cases := []struct {
		line string
		kind EventKind
	}{
		{"POST https://vpn.example.com/my.policy", EventAuthenticating},
		{"Got CONNECT response: HTTP/1.0 200 OK", EventAuthenticating},
		{"Connected to F5 Session Manager", EventSessionEstablished},
		{"Established connection", EventAuthenticating},
	}
	for _, tc := range cases {
		if ev := c.ClassifyLine(tc.line); ev.Kind != tc.kind {
			t.Errorf("ClassifyLine(%q).Kind = %q, want %q", tc.line, ev.Kind, tc.kind)
		}
	}
}

func TestClassifyAuthFailedPreservesRawLine(t *testing.T) {
	c := NewClassifier()

	line := "Failed to authenticate"
	ev := c.ClassifyErrorLine(line)
	if ev.Kind != EventError {
		t.Fatalf("Kind = %q, want %q", ev.Kind, EventError)
	}
	if ev.ErrorKind != ErrorAuthFailed {
		t.Errorf("ErrorKind = %q, want %q", ev.ErrorKind, ErrorAuthFailed)
	}
	if ev.RawLine != line {
		t.Errorf("RawLine = %q, want verbatim %q", ev.RawLine, line)
	}
}

func TestClassifyErrorCategories(t *testing.T) {
	c := NewClassifier()

	cases := []struct {
		line string
		kind ErrorKind
	}{
		{"SSL connection failure", ErrorTLS},
		{"TLS handshake failed", ErrorTLS},
		{"certificate validation failed", ErrorCertificate},
		{"Failed to open tun device", ErrorTunDevice},
		{"getaddrinfo failed for host", ErrorDNS},
		{"Name or service not known", ErrorDNS},
	}
	for _, tc := range cases {
		ev := c.ClassifyErrorLine(tc.line)
		if ev.Kind != EventError {
			t.Errorf("ClassifyErrorLine(%q).Kind = %q, want error", tc.line, ev.Kind)
			continue
		}
		if ev.ErrorKind != tc.kind {
			t.Errorf("ClassifyErrorLine(%q).ErrorKind = %q, want %q", tc.line, ev.ErrorKind, tc.kind)
		}
		if ev.RawLine != tc.line {
			t.Errorf("ClassifyErrorLine(%q) lost the raw line", tc.line)
		}
	}
}

func TestClassifyUnknownOutputKeepsLine(t *testing.T) {
	c := NewClassifier()

	for _, line := range []string{
		"some random progress output",
		"",
		"Configured as not-an-address",
	} {
		ev := c.ClassifyLine(line)
		if ev.Kind != EventUnknownOutput {
			t.Errorf("ClassifyLine(%q).Kind = %q, want unknown_output", line, ev.Kind)
		}
		if ev.RawLine != line {
			t.Errorf("ClassifyLine(%q) did not preserve the line", line)
		}
	}
}
