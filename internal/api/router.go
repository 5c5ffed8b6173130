package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AdminJWTSecret string
	AdminRoles     []string
	AllowedOrigins []string
}

// NewRouter registers the public, admin and webhook routes.
func NewRouter(h *Handler, wh *WebhookHandler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.handleHealth)

	// Stripe signs the raw body; it must not go through the admin group.
	r.Post("/webhooks/stripe", wh.handleStripeWebhook)

	r.Get("/donations", h.handleListDonations)
	r.Get("/equipment/{id}", h.handleGetEquipment)
	r.Get("/api/donations", h.handleLegacyList)

	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(opts.AdminJWTSecret, opts.AdminRoles))

		r.Post("/equipment", h.handleAddEquipment)
		r.Patch("/equipment/{id}", h.handleUpdateEquipment)
		r.Put("/equipment/{id}/progress", h.handleSetProgress)
		r.Post("/equipment/{id}/donations", h.handleRecordDonation)
		r.Post("/donations/{id}/void", h.handleVoidDonation)

		r.Post("/api/donations", h.handleLegacyAction)
		r.Put("/api/donations", h.handleLegacySetProgress)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "no such route"})
	})

	return r
}
