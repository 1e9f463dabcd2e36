package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/voxline/internal/health"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h *health.Handler, path string) (int, health.Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var rep health.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("%s: decode %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, rep
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	t.Parallel()
	code, rep := serve(t, health.New(health.Checker{Name: "broken", Check: failWith("down")}), "/healthz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz = %d %+v, want 200 ok", code, rep)
	}
	if len(rep.Checks) != 0 {
		t.Errorf("healthz reported checks %v", rep.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []health.Checker
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all pass",
			checkers: []health.Checker{
				{Name: "pipeline", Check: pass},
				{Name: "config", Check: pass},
			},
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"pipeline": "ok", "config": "ok"},
		},
		{
			name: "one fails",
			checkers: []health.Checker{
				{Name: "pipeline", Check: failWith("pipeline stopped")},
				{Name: "config", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"pipeline": "fail: pipeline stopped", "config": "ok"},
		},
		{
			name: "all fail",
			checkers: []health.Checker{
				{Name: "a", Check: failWith("x")},
				{Name: "b", Check: failWith("y")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"a": "fail: x", "b": "fail: y"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, rep := serve(t, health.New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			wantStatus := "ok"
			if tt.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if rep.Status != wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, wantStatus)
			}
			if len(rep.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", rep.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got := rep.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestCheck_RunsCheckersConcurrently(t *testing.T) {
	t.Parallel()

	// Each checker waits for the other; a sequential run would deadlock
	// until the check timeout.
	a, b := make(chan struct{}), make(chan struct{})
	h := health.New(
		health.Checker{Name: "a", Check: func(ctx context.Context) error {
			close(a)
			select {
			case <-b:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		health.Checker{Name: "b", Check: func(ctx context.Context) error {
			close(b)
			select {
			case <-a:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	)

	start := time.Now()
	if rep, ok := h.Check(context.Background()); !ok {
		t.Errorf("Check() = %+v, want all passing", rep)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Check took %v", elapsed)
	}
}

func TestCheck_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := health.New(health.State("pipeline", func() (string, bool) { return "", true }))
	rep, ok := h.Check(ctx)
	if ok {
		t.Fatal("Check() passed on a cancelled context")
	}
	if rep.Checks["pipeline"] != "fail: "+context.Canceled.Error() {
		t.Errorf("pipeline check = %q", rep.Checks["pipeline"])
	}
}

func TestState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		desc    string
		ok      bool
		wantErr string
	}{
		{name: "running", ok: true},
		{name: "stopped with reason", desc: "pipeline stopped: device unplugged", wantErr: "pipeline stopped: device unplugged"},
		{name: "stopped without reason", wantErr: "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := health.State("pipeline", func() (string, bool) { return tt.desc, tt.ok })
			if c.Name != "pipeline" {
				t.Errorf("Name = %q, want pipeline", c.Name)
			}
			err := c.Check(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Check() = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Check() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
