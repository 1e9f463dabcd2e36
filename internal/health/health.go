// Package health serves the liveness and readiness probes of the control
// surface.
//
// /healthz answers 200 while the process can serve HTTP. /readyz answers 200
// only while every registered [Checker] passes; voxline registers one that
// passes while the pipeline worker is live, paused included. Both answer a
// JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness check. Check returns nil while the checked
// part is healthy and should give up when ctx is done.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// State adapts a probe that reports a description and an ok flag, such as
// the pipeline manager's Ready method. The description becomes the failure
// message.
func State(name string, state func() (desc string, ok bool)) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if desc, ok := state(); !ok {
				if desc == "" {
					desc = "not ready"
				}
				return errors.New(desc)
			}
			return nil
		},
	}
}

// Report is the body of both probes. Checks holds "ok" or "fail: <reason>"
// per checker name.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

// New returns a Handler over checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Check runs every checker concurrently, each with its own [checkTimeout],
// and reports whether all of them passed.
func (h *Handler) Check(ctx context.Context) (Report, bool) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
		})
	}
	wg.Wait()

	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		if errs[i] != nil {
			rep.Status = "fail"
			rep.Checks[c.Name] = "fail: " + errs[i].Error()
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	return rep, rep.Status == "ok"
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is the readiness probe. It answers 503 when any check fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.Check(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
