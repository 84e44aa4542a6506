// Package httptransport wires the public HTTP surface. Handler modules own
// their routes and middleware; this package only assembles them and adds the
// operational endpoints.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	contacthandler "coalesce/internal/contact/handler"
	"coalesce/internal/transport/http/shared"
)

// HealthChecker reports whether a backing resource is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NewRouter assembles the root router: operational endpoints first, then the
// contact module mounted at the root.
func NewRouter(contacts *contacthandler.Handler, checks map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", handleHealth(checks))
	r.Handle("/metrics", promhttp.Handler())
	contacts.Register(r)
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check.Ping(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		shared.WriteJSON(w, status, resp)
	}
}
