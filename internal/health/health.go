// Package health provides HTTP liveness and readiness handlers.
//
//   - /healthz is the liveness probe and always returns 200 OK.
//   - /readyz is the readiness probe and returns 200 only when every
//     registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cashierchat/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency is
// usable.
type Checker struct {
	// Name appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers concurrently on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every [Checker] passes within [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			err := c.Check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

// ProviderCheck fails while available reports false, i.e. while no language
// model credential is configured.
func ProviderCheck(available func() bool) Checker {
	return Checker{
		Name: "llm_provider",
		Check: func(context.Context) error {
			if !available() {
				return errors.New("language model API key is not configured")
			}
			return nil
		},
	}
}

// BreakerCheck fails while cb is open.
func BreakerCheck(cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: "llm_breaker",
		Check: func(context.Context) error {
			if cb.State() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
