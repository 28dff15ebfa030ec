package vpn

import (
	"net"
	"regexp"
	"strings"
)

// Classifier turns one line of tunnel-client output into exactly one
// ConnectionEvent. It is pure: no side effects, never an error. Anything
// unrecognized becomes UnknownOutput rather than being dropped.
//
// Matching is ordered. Device-configuration lines are checked first because
// the vendor's fused format ("Configured as 10.10.62.228, with SSL connected
// and DTLS disabled") both names the address and signals a live session; such
// lines are upgraded straight to Connected instead of DeviceConfigured.
type Classifier struct {
	deviceConfigured *regexp.Regexp
	established      *regexp.Regexp
	authFailed       *regexp.Regexp
	authPost         *regexp.Regexp
	connectResponse  *regexp.Regexp
	sessionManager   *regexp.Regexp
	tlsError         *regexp.Regexp
	certError        *regexp.Regexp
	tunError         *regexp.Regexp
	dnsError         *regexp.Regexp
}

// NewClassifier compiles the output patterns. Patterns cover both the classic
// "Connected tun0 as 10.0.1.100" format and the F5 "Configured as <ip>, ..."
// format.
func NewClassifier() *Classifier {
	return &Classifier{
		deviceConfigured: regexp.MustCompile(`(?:Connected\s+(\w+)\s+as|Configured as)\s+(\S+)`),
		established:      regexp.MustCompile(`Established connection|SSL connected|with SSL connected`),
		authFailed:       regexp.MustCompile(`Failed to authenticate`),
		authPost:         regexp.MustCompile(`POST\s+https?://`),
		connectResponse:  regexp.MustCompile(`Got CONNECT response`),
		sessionManager:   regexp.MustCompile(`Connected to F5 Session Manager`),
		tlsError:         regexp.MustCompile(`(?i)SSL|TLS|connection failure|handshake`),
		certError:        regexp.MustCompile(`(?i)certificate|cert.*invalid|verification failed`),
		tunError:         regexp.MustCompile(`(?i)failed to open tun|tun.*error|no tun device`),
		dnsError:         regexp.MustCompile(`(?i)cannot resolve|unknown host|name resolution|getaddrinfo failed|Name or service not known`),
	}
}

// ClassifyLine classifies a line from the client's stdout stream.
func (c *Classifier) ClassifyLine(line string) ConnectionEvent {
	if m := c.deviceConfigured.FindStringSubmatch(line); m != nil {
		device := m[1]
		if device == "" {
			// F5 format names no device; the kernel default is tun.
			device = "tun"
		}
		addr := strings.TrimSpace(strings.TrimSuffix(m[2], ","))
		if ip := net.ParseIP(addr); ip != nil {
			if strings.Contains(line, "SSL connected") || strings.Contains(line, "DTLS") {
				return ConnectionEvent{Kind: EventConnected, Device: device, Address: ip}
			}
			return ConnectionEvent{Kind: EventDeviceConfigured, Device: device, Address: ip}
		}
	}

	if c.authFailed.MatchString(line) {
		return ConnectionEvent{Kind: EventError, ErrorKind: ErrorAuthFailed, RawLine: line}
	}

	if c.authPost.MatchString(line) {
		return ConnectionEvent{Kind: EventAuthenticating, Message: "Authenticating with server"}
	}

	if c.connectResponse.MatchString(line) {
		return ConnectionEvent{Kind: EventAuthenticating, Message: "Received server response"}
	}

	if c.sessionManager.MatchString(line) {
		// Session token redacted; the hint carries no credential material.
		return ConnectionEvent{Kind: EventSessionEstablished}
	}

	if c.established.MatchString(line) {
		return ConnectionEvent{Kind: EventAuthenticating, Message: "Establishing connection"}
	}

	return ConnectionEvent{Kind: EventUnknownOutput, RawLine: line}
}

// ClassifyErrorLine classifies a line from the client's stderr stream into a
// coarse error category, each carrying the raw line for diagnostics.
func (c *Classifier) ClassifyErrorLine(line string) ConnectionEvent {
	if c.authFailed.MatchString(line) {
		return ConnectionEvent{Kind: EventError, ErrorKind: ErrorAuthFailed, RawLine: line}
	}
	if c.tlsError.MatchString(line) {
		return ConnectionEvent{Kind: EventError, ErrorKind: ErrorTLS, RawLine: line}
	}
	if c.certError.MatchString(line) {
		return ConnectionEvent{Kind: EventError, ErrorKind: ErrorCertificate, RawLine: line}
	}
	if c.tunError.MatchString(line) {
		return ConnectionEvent{Kind: EventError, ErrorKind: ErrorTunDevice, RawLine: line}
	}
	if c.dnsError.MatchString(line) {
		return ConnectionEvent{Kind: EventError, ErrorKind: ErrorDNS, RawLine: line}
	}
	return ConnectionEvent{Kind: EventUnknownOutput, RawLine: line}
}
