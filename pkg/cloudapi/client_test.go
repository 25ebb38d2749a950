package cloudapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testOptions returns client options with waits short enough for tests.
func testOptions() Options {
	return Options{
		MaxAttempts:    3,
		AttemptTimeout: 2 * time.Second,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

func TestCallRetriesServerErrorsExactly(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(StaticToken("tok"), testOptions())
	err := client.Get(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want exactly 3", attempts)
	}

	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected *APIError in the chain, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apiErr.StatusCode)
	}
}

func TestCallSucceedsOnThirdAttempt(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	client := NewClient(StaticToken("tok"), testOptions())
	var out struct {
		Value string `json:"value"`
	}
	if err := client.Get(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if out.Value != "ok" {
		t.Errorf("decoded value = %q, want ok", out.Value)
	}
}

func TestCallDoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, IsNotFound},
		{"conflict", http.StatusConflict, IsConflict},
		{"auth expired", http.StatusUnauthorized, IsAuthExpired},
		{"permission denied", http.StatusForbidden, IsPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts++
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, tt.status)
			}))
			defer srv.Close()

			client := NewClient(StaticToken("tok"), testOptions())
			err := client.Get(context.Background(), srv.URL, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if attempts != 1 {
				t.Errorf("attempts = %d, want 1 (no retry on 4xx)", attempts)
			}
			if !tt.check(err) {
				t.Errorf("error %v not classified as %s", err, tt.name)
			}
		})
	}
}

func TestCallAttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(StaticToken("secret-token"), testOptions())
	if err := client.Get(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want Bearer secret-token", gotAuth)
	}
}

func TestUploadSkipsAuth(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, 16)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(StaticToken("tok"), testOptions())
	if err := client.Upload(context.Background(), srv.URL, "application/zip", []byte("zipbytes")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty on pre-signed upload", gotAuth)
	}
	if gotContentType != "application/zip" {
		t.Errorf("Content-Type = %q, want application/zip", gotContentType)
	}
	if string(gotBody) != "zipbytes" {
		t.Errorf("body = %q, want zipbytes", gotBody)
	}
}

func TestCallTimeoutEscalation(t *testing.T) {
	attempts := 0
	block := make(chan struct{})
	defer close(block)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			select {
			case <-block:
			case <-r.Context().Done():
			}
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.AttemptTimeout = 50 * time.Millisecond
	opts.TimeoutGrowth = 2
	opts.MaxAttemptTimeout = time.Second

	client := NewClient(StaticToken("tok"), opts)
	start := time.Now()
	if err := client.Get(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (timeout then success)", attempts)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("elapsed %v is shorter than the first attempt's deadline", elapsed)
	}
}

func TestEmptyTokenRejected(t *testing.T) {
	client := NewClient(StaticToken(""), testOptions())
	err := client.Get(context.Background(), "http://127.0.0.1:0", nil)
	if err == nil {
		t.Fatal("expected error for empty token")
	}
}
