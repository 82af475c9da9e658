/**
 * @description
 * This file sets up the HTTP router for the portal-service using the `chi`
 * routing library. It defines all the API routes and applies necessary
 * middleware, including request logging, panic recovery, CORS, and the
 * session-authentication guard around the banking routes.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The routing library.
 * - github.com/go-chi/cors: CORS middleware.
 * - github.com/prometheus/client_golang: Exposes the /metrics endpoint.
 */
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finportal/portal-service/internal/app"
	"github.com/finportal/portal-service/internal/config"
)

// NewRouter creates and configures a new HTTP router.
func NewRouter(cfg *config.Config, service *app.Service) http.Handler {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	h := NewPortalHandlers(service)

	// Public auth routes. The MFA and logout endpoints take a session token
	// that is not yet (or no longer) fully authenticated, so they stay
	// outside the guarded group and read the bearer token themselves.
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.RegisterHandler)
		r.Get("/verify-email", h.VerifyEmailHandler)
		r.Post("/login", h.LoginHandler)
		r.Post("/mfa/verify", h.VerifyLoginHandler)
		r.Post("/logout", h.LogoutHandler)
	})

	// Group routes that require an authenticated session
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(service))

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccountsHandler)
			r.Post("/", h.OpenAccountHandler)
			r.Get("/{accountID}/transactions", h.ListTransactionsHandler)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/internal", h.InternalTransferHandler)
			r.Post("/external", h.ExternalTransferHandler)
		})

		r.Route("/operations", func(r chi.Router) {
			r.Get("/pending", h.PendingOperationHandler)
			r.Post("/confirm", h.ConfirmOperationHandler)
			r.Post("/cancel", h.CancelOperationHandler)
			r.Post("/resend", h.ResendOperationHandler)
		})
	})

	return r
}
