package kumo

import (
	"context"
	"io"
	"net/http"
	"testing"
)

func TestSetupLogsInWithoutStoredTokens(t *testing.T) {
	var logins int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/login" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		logins++
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"token":{"access":"access-1","refresh":"refresh-1"}}`)
	}))

	coord, err := Setup(context.Background(), client, "site-1", 0)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if logins != 1 {
		t.Fatalf("expected one login, got %d", logins)
	}
	if coord.interval != DefaultScanInterval {
		t.Fatalf("expected default interval, got %s", coord.interval)
	}
}

func TestSetupProbesStoredTokens(t *testing.T) {
	var probes, logins int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/accounts/me":
			probes++
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"username":"someone@example.com"}`)
		case "/v3/login":
			logins++
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	client.SetToken(validToken())

	if _, err := Setup(context.Background(), client, "site-1", 0); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if probes != 1 || logins != 0 {
		t.Fatalf("expected probe without login, got %d/%d", probes, logins)
	}
}

func TestSetupFallsBackToLoginOnRejectedTokens(t *testing.T) {
	var logins int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/accounts/me":
			w.WriteHeader(http.StatusUnauthorized)
		case "/v3/login":
			logins++
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"token":{"access":"access-2","refresh":"refresh-2"}}`)
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	client.SetToken(validToken())

	if _, err := Setup(context.Background(), client, "site-1", 0); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if logins != 1 {
		t.Fatalf("expected a fallback login, got %d", logins)
	}
	if token := client.Token(); token.AccessToken != "access-2" {
		t.Fatalf("unexpected token: %+v", token)
	}
}
