package cmd

import (
	"testing"

	"go.akon.dev/akon/internal/daemon"
	"go.akon.dev/akon/internal/vpn"
)

func TestSuggestionForCoversEveryErrorKind(t *testing.T) {
	kinds := []vpn.ErrorKind{
		vpn.ErrorAuthFailed,
		vpn.ErrorTLS,
		vpn.ErrorCertificate,
		vpn.ErrorTunDevice,
		vpn.ErrorDNS,
		vpn.ErrorSpawn,
		vpn.ErrorTimeout,
	}

	for _, kind := range kinds {
		if suggestionFor(kind) == "" {
			t.Errorf("no suggestion for error kind %q", kind)
		}
	}

	if suggestionFor("") != "" {
		t.Error("expected empty suggestion for unclassified error")
	}
}

func TestErrorKindFrom(t *testing.T) {
	tests := []struct {
		name     string
		response daemon.Response
		want     vpn.ErrorKind
	}{
		{
			name:     "no data",
			response: daemon.Response{},
			want:     "",
		},
		{
			name: "error kind present",
			response: daemon.Response{
				Data: map[string]interface{}{"error_kind": "auth_failed"},
			},
			want: vpn.ErrorAuthFailed,
		},
		{
			name: "data without error kind",
			response: daemon.Response{
				Data: map[string]interface{}{"version": "1.0"},
			},
			want: "",
		},
		{
			name: "non-map data",
			response: daemon.Response{
				Data: []interface{}{"unexpected"},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorKindFrom(tt.response); got != tt.want {
				t.Errorf("errorKindFrom() = %q, want %q", got, tt.want)
			}
		})
	}
}
