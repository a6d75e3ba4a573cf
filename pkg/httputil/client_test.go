package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	errs "github.com/matzehuels/testmap/pkg/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]ClientOption{WithHTTPClient(srv.Client()), WithRetry(3, time.Millisecond)}, opts...)
	c, err := NewClient(srv.URL+"/api/v1", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRejectsScheme(t *testing.T) {
	if _, err := NewClient("ftp://example.com"); !errs.Is(err, errs.ErrCodeInvalidInput) {
		t.Errorf("NewClient(ftp) error = %v", err)
	}
}

func TestClientGet(t *testing.T) {
	type response struct {
		Message string `json:"message"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/api/v1/tests/feature/5" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(response{Message: "hello"})
	}, WithBearerToken("secret"))

	var resp response
	if err := c.Get(context.Background(), "/tests/feature/5", &resp); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if resp.Message != "hello" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestClientPostBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		in["id"] = 9
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(in)
	})

	var out map[string]any
	if err := c.Post(context.Background(), "/tests", map[string]string{"name": "login"}, &out); err != nil {
		t.Fatal(err)
	}
	if out["name"] != "login" || out["id"] != float64(9) {
		t.Errorf("out = %v", out)
	}
}

func TestClientStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  errs.Code
		wantCalls int32
	}{
		{"not found", http.StatusNotFound, errs.ErrCodeNotFound, 1},
		{"bad request", http.StatusBadRequest, errs.ErrCodeInvalidInput, 1},
		{"unprocessable", http.StatusUnprocessableEntity, errs.ErrCodeInvalidInput, 1},
		{"server error retried", http.StatusBadGateway, errs.ErrCodeNetwork, 3},
		{"rate limited retried", http.StatusTooManyRequests, errs.ErrCodeRateLimited, 3},
		{"forbidden", http.StatusForbidden, errs.ErrCodeNetwork, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"detail": "nope"})
			})
			err := c.Get(context.Background(), "/x", nil)
			if !errs.Is(err, tt.wantCode) {
				t.Errorf("error = %v, want code %s", err, tt.wantCode)
			}
			if IsRetryable(err) {
				t.Error("final error should be unwrapped from RetryableError")
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if errs.UserMessage(err) != "nope" {
				t.Errorf("UserMessage = %q", errs.UserMessage(err))
			}
		})
	}
}

func TestClientRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]int{1, 2})
	})

	var out []int
	if err := c.Get(context.Background(), "/x", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(out) != 2 || calls.Load() != 2 {
		t.Errorf("out = %v after %d calls", out, calls.Load())
	}
}

func TestClientDeleteNoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.Delete(context.Background(), "/node-positions/project/1"); err != nil {
		t.Fatal(err)
	}
}

func TestClientDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	var out []int
	if err := c.Get(context.Background(), "/x", &out); !errs.Is(err, errs.ErrCodeInvalidFormat) {
		t.Errorf("error = %v", err)
	}
}

func TestRetryContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, 3, time.Millisecond, func() error {
		calls++
		return &RetryableError{Err: errors.New("x")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	want := errors.New("still down")
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return &RetryableError{Err: want}
	})
	if !errors.Is(err, want) || calls != 2 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}
