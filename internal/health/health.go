// Package health serves the liveness and readiness probes.
//
//   - GET /healthz answers 200 while the process can serve HTTP and reports
//     the build version and uptime.
//   - GET /readyz runs every [Checker] concurrently. A failing required check
//     turns the response into 503 "fail"; a failing optional check only
//     downgrades it to 200 "degraded", so an orchestrator keeps routing
//     traffic while an evaluation backend is failing over.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check.
type Checker struct {
	// Name keys the check in the JSON response (e.g. "store", "inbox").
	Name string

	// Check returns nil when the dependency is usable. It must respect ctx.
	Check func(ctx context.Context) error

	// Optional checks degrade readiness instead of failing it.
	Optional bool
}

// Info describes the running build.
type Info struct {
	Version string
	Started time.Time
}

type checkResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type response struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version,omitempty"`
	UptimeSeconds int64                  `json:"uptime_seconds,omitempty"`
	Checks        map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	info     Info
	checkers []Checker
}

// New creates a [Handler].
func New(info Info, checkers ...Checker) *Handler {
	return &Handler{info: info, checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := response{Status: StatusOK, Version: h.info.Version}
	if !h.info.Started.IsZero() {
		res.UptimeSeconds = int64(time.Since(h.info.Started).Seconds())
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]checkResult, len(h.checkers))
		status = StatusOK
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			start := time.Now()
			err := c.Check(ctx)
			elapsed := time.Since(start)
			cancel()

			cr := checkResult{Status: StatusOK, DurationMS: elapsed.Milliseconds()}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				cr.Error = err.Error()
				switch {
				case !c.Optional:
					cr.Status = StatusFail
					status = StatusFail
				default:
					cr.Status = StatusDegraded
					if status == StatusOK {
						status = StatusDegraded
					}
				}
			}
			checks[c.Name] = cr
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	if status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response{Status: status, Version: h.info.Version, Checks: checks})
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Pinger is implemented by stores that can verify their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck is a required check that p answers a ping.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// WritableDirCheck is a required check that dir exists and accepts new
// files. The probe file is removed again.
func WritableDirCheck(name, dir string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		fi, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		f, err := os.CreateTemp(dir, ".readyz-*")
		if err != nil {
			return err
		}
		path := f.Name()
		return errors.Join(f.Close(), os.Remove(filepath.Clean(path)))
	}}
}

// CircuitReporter is implemented by provider failover groups.
type CircuitReporter interface {
	// OpenCircuits names the backends whose circuit breaker is open.
	OpenCircuits() []string
}

// CircuitCheck is an optional check that no backend behind r has an open
// circuit breaker.
func CircuitCheck(name string, r CircuitReporter) Checker {
	return Checker{Name: name, Optional: true, Check: func(context.Context) error {
		if open := r.OpenCircuits(); len(open) > 0 {
			return fmt.Errorf("circuit open: %s", strings.Join(open, ", "))
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
