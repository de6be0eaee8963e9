// Package health serves the liveness and readiness probes of the scribe
// server.
//
// /healthz answers 200 while the process serves HTTP. /readyz runs every
// [Checker] and answers 503 when one fails. A checker may instead report
// itself degraded (see [Degraded]): the body says so, the status stays 200.
//
//	{"status":"degraded","checks":{"store":"ok","stt":"degraded: whisper open (connection refused)"}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribe/internal/resilience"
)

const checkTimeout = 5 * time.Second

// Overall and per-check outcomes.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is one named readiness probe.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type degraded struct{ reason string }

func (d degraded) Error() string { return d.reason }

// Degraded wraps a reason into an error that /readyz reports without failing.
func Degraded(format string, args ...any) error {
	return degraded{reason: fmt.Sprintf(format, args...)}
}

// IsDegraded reports whether err came from [Degraded].
func IsDegraded(err error) bool {
	var d degraded
	return errors.As(err, &d)
}

// Pinger is implemented by the session archive backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// BreakerReporter is implemented by the provider fallback wrappers.
type BreakerReporter interface {
	Status() []resilience.BreakerStatus
}

// Breakers checks a provider chain. It fails when every circuit is open and
// reports degraded while only some are.
func Breakers(name string, r BreakerReporter) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		status := r.Status()
		var open []string
		for _, s := range status {
			if s.State != resilience.StateOpen {
				continue
			}
			label := s.Name
			if s.LastError != "" {
				label += " (" + s.LastError + ")"
			}
			open = append(open, label)
		}
		switch {
		case len(open) == 0:
			return nil
		case len(open) == len(status):
			return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
		default:
			return Degraded("open: %s", strings.Join(open, ", "))
		}
	}}
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz over a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

// New returns a Handler running checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds both routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: StatusOK})
}

// Readyz runs the checkers concurrently, each bounded by [checkTimeout]
// under the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if errs[i] = c.Check(ctx); errs[i] == nil {
				errs[i] = ctx.Err()
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := report{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		switch err := errs[i]; {
		case err == nil:
			rep.Checks[c.Name] = StatusOK
		case IsDegraded(err):
			rep.Checks[c.Name] = StatusDegraded + ": " + err.Error()
			if rep.Status == StatusOK {
				rep.Status = StatusDegraded
			}
		default:
			rep.Checks[c.Name] = StatusFail + ": " + err.Error()
			rep.Status = StatusFail
		}
	}

	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
