// Package httptransport assembles the HTTP surface: the shared middleware
// chain and every feature handler mounted on one chi router. Handlers stay
// thin; everything here is wiring.
package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	brokerhandler "aidantsconnect/internal/broker/handler"
	identityhandler "aidantsconnect/internal/identity/handler"
	mandatehandler "aidantsconnect/internal/mandate/handler"
	"aidantsconnect/internal/platform/metrics"
	"aidantsconnect/internal/platform/middleware"
	"aidantsconnect/pkg/platform/httputil"

	"log/slog"
)

// Deps carries everything the router mounts.
type Deps struct {
	Identity *identityhandler.Handler
	Mandates *mandatehandler.Handler
	Broker   *brokerhandler.Handler
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Health   func() error
}

// NewRouter builds the public router with the shared middleware chain.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	if d.Metrics != nil {
		r.Use(middleware.Latency(d.Metrics))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if d.Health != nil {
			if err := d.Health(); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	d.Identity.Register(r)
	d.Mandates.Register(r)
	d.Broker.Register(r)
	return r
}
