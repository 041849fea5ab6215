// Package health serves the liveness and readiness probes for the voice
// agent server.
//
// Two endpoints:
//
//   - /healthz — liveness; a process that can serve HTTP answers 200.
//   - /readyz  — readiness; 200 only while every registered [Checker]
//     passes, 503 otherwise.
//
// Readiness gates traffic on the dependencies a session actually needs:
// provider reachability, the archive database, session capacity. Responses
// are JSON with a top-level "status" ("ok" or "fail") and a "checks" map
// naming each probe's result, so an operator can see which dependency took
// the server out of rotation.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness probe. A hung dependency must not
// hold /readyz open past it.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil while the
// dependency can serve a session and an error describing the failure
// otherwise. It must respect context cancellation.
type Checker struct {
	// Name labels the probe in the JSON response (e.g. "archive",
	// "sessions").
	Name string

	Check func(ctx context.Context) error
}

// Pinger wraps a ping-style probe (a pgx pool Ping, a provider's health
// endpoint) as a named Checker.
func Pinger(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

// SessionLoad reports the server not ready once size() reaches limit, taking
// a full node out of rotation before it starts refusing sessions. A limit of
// zero disables the check.
func SessionLoad(limit int, size func() int) Checker {
	return Checker{
		Name: "sessions",
		Check: func(context.Context) error {
			if limit <= 0 {
				return nil
			}
			if n := size(); n >= limit {
				return fmt.Errorf("at capacity: %d/%d sessions", n, limit)
			}
			return nil
		},
	}
}

// result is the JSON body for both probes.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Safe for concurrent use; the checker
// list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New creates a Handler that evaluates the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker under a [checkTimeout] deadline derived from the
// request context and answers 503 when any of them fails. All checkers run
// even after a failure so the response names every broken dependency, not
// just the first.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds both probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
