// Package httpapi exposes the reward vault over HTTP: the user-facing vault
// endpoints and the admin console API. Mutating admin endpoints accept an
// Idempotency-Key header; replayed responses carry Idempotency-Replayed.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dmitrijs2005/rewardvault/internal/logging"
	"github.com/dmitrijs2005/rewardvault/internal/server/config"
	"github.com/dmitrijs2005/rewardvault/internal/server/services"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	cfg      *config.Config
	logger   logging.Logger
	admin    *services.AdminService
	vaults   *services.VaultService
	jobs     *services.JobProcessor
	resolver *services.TargetResolver
	segments *services.SegmentService
	expiry   *services.ExpiryService
	notify   *services.NotifyService
	imports  *services.ImportService
}

func NewHandlers(cfg *config.Config, logger logging.Logger,
	admin *services.AdminService, vaults *services.VaultService, jobs *services.JobProcessor,
	resolver *services.TargetResolver, segments *services.SegmentService,
	expiry *services.ExpiryService, notify *services.NotifyService, imports *services.ImportService) *Handlers {
	return &Handlers{
		cfg:      cfg,
		logger:   logger,
		admin:    admin,
		vaults:   vaults,
		jobs:     jobs,
		resolver: resolver,
		segments: segments,
		expiry:   expiry,
		notify:   notify,
		imports:  imports,
	}
}

// NewRouter wires the routes.
func (h *Handlers) NewRouter() http.Handler {
	secret := []byte(h.cfg.SecretKey)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestLogger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Request-Id"},
	}))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", h.userLogin)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(secret, "user"))
			r.Get("/vault", h.vaultStatus)
			r.Post("/vault/claim", h.vaultClaim)
			r.Post("/vault/attendance", h.vaultAttendance)
		})

		r.Post("/admin/login", h.adminLogin)
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(secret, "admin"))

			r.Get("/users", h.listUsers)
			r.Get("/users/{id}", h.getUser)
			r.Delete("/users/{id}", h.deleteUser)
			r.Get("/users/{id}/extensions", h.userExtensions)

			r.Post("/vault/gold-missions", h.bulkGoldMissions)
			r.Post("/vault/status-override", h.bulkStatusOverride)
			r.Post("/vault/attendance", h.bulkAttendance)
			r.Post("/vault/deposit", h.bulkDeposit)
			r.Post("/vault/extend-expiry", h.bulkExtendExpiry)
			r.Post("/notify", h.bulkNotify)

			r.Post("/targets/preview", h.previewTargets)

			r.Get("/segments", h.listSegments)
			r.Post("/segments", h.saveSegment)
			r.Get("/segments/{id}", h.getSegment)
			r.Delete("/segments/{id}", h.deleteSegment)

			r.Get("/jobs", h.listJobs)
			r.Get("/jobs/{id}", h.getJob)
			r.Get("/jobs/{id}/items", h.jobItems)
			r.Get("/jobs/{id}/items.csv", h.jobItemsCSV)
			r.Post("/jobs/{id}/retry", h.retryJob)

			r.Post("/notifications/{id}/retry", h.retryNotification)
			r.Post("/notifications/{id}/cancel", h.cancelNotification)

			r.Post("/import/daily", h.dailyImport)

			r.Get("/audit", h.auditLog)
		})
	})

	return r
}
