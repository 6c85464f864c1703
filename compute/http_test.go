package compute_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/gpuflow/compute"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *compute.HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return compute.NewHTTPClient("test-key", compute.WithBaseURL(srv.URL))
}

func TestHTTPClient_SubmitRun(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPath string
	var gotBody struct {
		Input json.RawMessage `json:"input"`
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "r1", "status": "IN_QUEUE"})
	})

	remoteID, err := c.SubmitRun(context.Background(), "ep1", json.RawMessage(`{"prompt":"cat"}`))
	if err != nil {
		t.Fatalf("SubmitRun failed: %v", err)
	}

	if remoteID != "r1" {
		t.Errorf("remote id = %q, want %q", remoteID, "r1")
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/ep1/run" {
		t.Errorf("path = %q, want %q", gotPath, "/ep1/run")
	}
	if string(gotBody.Input) != `{"prompt":"cat"}` {
		t.Errorf("input = %s", gotBody.Input)
	}
}

func TestHTTPClient_SubmitRun_EmptyIDIsRejection(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "IN_QUEUE"})
	})

	if _, err := c.SubmitRun(context.Background(), "ep1", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for empty run id, got nil")
	}
}

func TestHTTPClient_SubmitRun_HTTPError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "endpoint not found", http.StatusNotFound)
	})

	if _, err := c.SubmitRun(context.Background(), "missing", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}
}

func TestHTTPClient_RunStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		response   string
		wantStatus compute.RemoteStatus
		wantOutput string
		wantError  string
	}{
		{
			name:       "completed with output",
			response:   `{"id":"r1","status":"COMPLETED","output":{"url":"x.png"},"executionTime":1234}`,
			wantStatus: compute.RemoteCompleted,
			wantOutput: `{"url":"x.png"}`,
		},
		{
			name:       "failed with error",
			response:   `{"id":"r1","status":"FAILED","error":"cuda out of memory"}`,
			wantStatus: compute.RemoteFailed,
			wantError:  "cuda out of memory",
		},
		{
			name:       "still in progress",
			response:   `{"id":"r1","status":"IN_PROGRESS"}`,
			wantStatus: compute.RemoteInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/ep1/status/r1" {
					t.Errorf("path = %q", r.URL.Path)
				}
				_, _ = w.Write([]byte(tt.response))
			})

			state, err := c.RunStatus(context.Background(), "ep1", "r1")
			if err != nil {
				t.Fatalf("RunStatus failed: %v", err)
			}
			if state.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", state.Status, tt.wantStatus)
			}
			if tt.wantOutput != "" && string(state.Output) != tt.wantOutput {
				t.Errorf("output = %s, want %s", state.Output, tt.wantOutput)
			}
			if state.Error != tt.wantError {
				t.Errorf("error = %q, want %q", state.Error, tt.wantError)
			}
		})
	}
}

func TestHTTPClient_CancelRun(t *testing.T) {
	t.Parallel()

	var gotPath, gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "r1", "status": "CANCELLED"})
	})

	if err := c.CancelRun(context.Background(), "ep1", "r1"); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/ep1/cancel/r1" {
		t.Errorf("got %s %s, want POST /ep1/cancel/r1", gotMethod, gotPath)
	}
}

func TestRemoteStatus_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status compute.RemoteStatus
		want   bool
	}{
		{compute.RemoteInQueue, false},
		{compute.RemoteInProgress, false},
		{compute.RemoteCompleted, true},
		{compute.RemoteFailed, true},
		{compute.RemoteCancelled, true},
		{compute.RemoteTimedOut, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
