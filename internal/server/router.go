// Package server assembles the HTTP surface: Connect services, payment
// webhooks, health and metrics.
package server

import (
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiumaa/kixikila/internal/auth"
	"github.com/kiumaa/kixikila/internal/middleware"
	"github.com/kiumaa/kixikila/internal/service"
	"github.com/kiumaa/kixikila/pkg/api"
)

// Deps are the handlers and collaborators the router mounts.
type Deps struct {
	Draw     *service.DrawService
	Wallet   *service.WalletService
	Group    *service.GroupService
	Webhooks *service.WebhookHandler

	JWT      *auth.JWTManager
	Gatherer prometheus.Gatherer
}

// NewRouter returns the server's root handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	// Webhooks are only served when a signing key is configured.
	if d.Webhooks != nil {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/payments", d.Webhooks.Payments)
			r.Post("/settlements", d.Webhooks.Settlements)
		})
	}

	// RequireAuth runs first so the logging interceptor sees the member.
	interceptors := connect.WithInterceptors(
		middleware.RequireAuth(d.JWT),
		middleware.LoggingInterceptor(),
	)
	drawPath, drawHandler := api.NewDrawServiceHandler(d.Draw, interceptors)
	mount(r, drawPath, drawHandler)
	walletPath, walletHandler := api.NewWalletServiceHandler(d.Wallet, interceptors)
	mount(r, walletPath, walletHandler)
	groupPath, groupHandler := api.NewGroupServiceHandler(d.Group, interceptors)
	mount(r, groupPath, groupHandler)

	return r
}

func mount(r chi.Router, path string, h http.Handler) {
	r.Mount(strings.TrimSuffix(path, "/"), h)
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms, "+api.ErrorKindKey)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
