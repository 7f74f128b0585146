package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGateway_Run_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if !req.TrustedMode {
			t.Error("expected trusted_mode=true always")
		}
		json.NewEncoder(w).Encode(RunResult{Success: true, Stdout: "ok", ExitCode: 0, DurationMs: 5})
	}))
	defer srv.Close()

	gw := NewGateway(srv.URL, srv.Client())
	result, err := gw.Run(context.Background(), RunRequest{Language: "python", Code: "print(1)", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success || result.Stdout != "ok" {
		t.Errorf("result = %+v", result)
	}
}

func TestGateway_Run_ConnectFailureRetriesOnce(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("response writer does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatal(err)
		}
		conn.Close() // simulate a connection that never completes
	}))
	defer srv.Close()

	gw := NewGateway(srv.URL, srv.Client())
	_, err := gw.Run(context.Background(), RunRequest{Language: "python", Code: "x", Timeout: 500 * time.Millisecond})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if calls < 1 {
		t.Errorf("expected at least one attempt, got %d", calls)
	}
	if calls > 2 {
		t.Errorf("expected at most one retry (2 attempts total), got %d", calls)
	}
}

func TestGateway_Run_NonOKStatusIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	gw := NewGateway(srv.URL, srv.Client())
	_, err := gw.Run(context.Background(), RunRequest{Language: "python", Code: "x", Timeout: time.Second})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if calls != 1 {
		t.Errorf("non-200 responses should not be retried, got %d calls", calls)
	}
}
