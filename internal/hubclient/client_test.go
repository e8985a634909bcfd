package hubclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/sign"
)

func testSigner(t *testing.T) (*sign.Signer, string) {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "key")
	pubB64, err := sign.Generate(keyPath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	signer, err := sign.LoadSigner(keyPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return signer, pubB64
}

func TestSubmitSignsExactBody(t *testing.T) {
	signer, pubB64 := testSigner(t)
	body := []byte(`[{"id":"e1"}]`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := io.ReadAll(r.Body)
		if string(got) != string(body) {
			t.Errorf("body mutated in transit: %s", got)
		}
		if r.Header.Get("X-Source-ID") != "m1" {
			t.Errorf("missing source header")
		}
		pub, err := sign.ParsePublicKey(pubB64)
		if err != nil {
			t.Fatalf("parse key: %v", err)
		}
		if !sign.Verify(pub, got, r.Header.Get("X-Signature")) {
			t.Error("signature does not verify over received bytes")
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, "m1", signer)
	if err := c.Submit(context.Background(), body); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	signer, _ := testSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "m1", signer)
	err := c.Submit(context.Background(), []byte("[]"))

	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("expected 7s retry-after, got %s", rl.RetryAfter)
	}
}

func TestSubmitPermanentRejection(t *testing.T) {
	signer, _ := testSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_signature"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "m1", signer)
	err := c.Submit(context.Background(), []byte("[]"))

	var pe *PermanentError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
	if pe.Status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", pe.Status)
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	signer, _ := testSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "m1", signer)
	if err := c.Submit(context.Background(), []byte("[]")); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}

	// Unreachable endpoint is also a transport failure.
	srv.Close()
	if err := c.Submit(context.Background(), []byte("[]")); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error for closed server, got %v", err)
	}
}
