package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each dependency probe.
const checkTimeout = 2 * time.Second

// ReadyCheck probes one dependency for /readyz. A nil Check is ignored, so
// optional dependencies can be listed unconditionally.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// Readiness is the /readyz body: "ok" or the error text per dependency.
type Readiness struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// Probe runs the checks concurrently, each under its own timeout.
func Probe(ctx context.Context, checks []ReadyCheck) Readiness {
	var (
		mu  sync.Mutex
		out = Readiness{Ready: true, Checks: map[string]string{}}
		g   errgroup.Group
	)
	for i, c := range checks {
		if c.Check == nil {
			continue
		}
		name := c.Name
		if name == "" {
			name = "check-" + strconv.Itoa(i)
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			result := "ok"
			err := c.Check(cctx)
			if err != nil {
				result = err.Error()
			}
			mu.Lock()
			out.Checks[name] = result
			if err != nil {
				out.Ready = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// NewBaseRouter returns a router with /healthz (liveness) and /readyz.
func NewBaseRouter(checks ...ReadyCheck) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		report := Probe(r.Context(), checks)
		status := http.StatusOK
		if !report.Ready {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
	return r
}
