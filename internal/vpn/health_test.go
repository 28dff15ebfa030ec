package vpn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newProbeServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckSucceedsOn2xx(t *testing.T) {
	srv := newProbeServer(t, http.StatusNoContent)
	hc := NewHealthChecker(srv.URL, 2*time.Second)

	if err := hc.Check(context.Background()); err != nil {
		t.Errorf("expected success for 204, got %v", err)
	}
}

func TestCheckSucceedsOnRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://10.255.255.1/portal", http.StatusFound)
	}))
	defer srv.Close()

	hc := NewHealthChecker(srv.URL, 2*time.Second)
	if err := hc.Check(context.Background()); err != nil {
		t.Errorf("expected 302 to count as success, got %v", err)
	}
}

func TestCheckFailsOnServerError(t *testing.T) {
	srv := newProbeServer(t, http.StatusBadGateway)
	hc := NewHealthChecker(srv.URL, 2*time.Second)

	if err := hc.Check(context.Background()); err == nil {
		t.Error("expected failure for 502")
	}
}

func TestCheckFailsWhenUnreachable(t *testing.T) {
	srv := newProbeServer(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	hc := NewHealthChecker(url, 500*time.Millisecond)
	if err := hc.Check(context.Background()); err == nil {
		t.Error("expected transport error against closed server")
	}
}

func TestIsReachableTreatsAnyResponseAsReachable(t *testing.T) {
	srv := newProbeServer(t, http.StatusInternalServerError)
	hc := NewHealthChecker(srv.URL, 2*time.Second)

	if !hc.IsReachable(context.Background()) {
		t.Error("a 500 response still proves the path is up")
	}
}

func TestIsReachableFalseWhenNoResponse(t *testing.T) {
	srv := newProbeServer(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	hc := NewHealthChecker(url, 500*time.Millisecond)
	if hc.IsReachable(context.Background()) {
		t.Error("closed server must not count as reachable")
	}
}

func TestCheckHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	hc := NewHealthChecker(srv.URL, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := hc.Check(ctx); err == nil {
		t.Error("expected cancellation error")
	}
}
