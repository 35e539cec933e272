package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the health, metrics and stats endpoints.
// metrics may be nil when Prometheus is disabled.
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers, metrics http.Handler, secret string) {
	mux.HandleFunc("/healthz", handlers.handleHealth)

	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	r := chi.NewRouter()
	r.Use(AuthMiddleware(secret))

	r.Get("/stats", handlers.handleStats)
	r.Route("/stats/tables", func(r chi.Router) {
		r.Get("/", handlers.handleTables)
		r.Get("/{table}", handlers.handleTable)
	})

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Bool("metrics", metrics != nil).Msg("Admin endpoints enabled at /admin/stats")
}
