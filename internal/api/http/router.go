package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trailmap/trailmap/internal/cache"
	"github.com/trailmap/trailmap/internal/observability"
)

// RouterConfig carries the handlers the router mounts. Nil handlers
// leave their routes unmounted, which is how ingest-only and query-only
// deployments differ.
type RouterConfig struct {
	Paths   *PathsHandler
	Ingest  *IngestHandler
	Persons *PersonsHandler
	Cache   *cache.ResultCache
	Stats   *observability.PathStats
	Log     zerolog.Logger
}

// NewRouter builds the HTTP route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(RecoveryMiddleware(cfg.Log))
	r.Use(RequestIDMiddleware)
	r.Use(CorrelationIDMiddleware)
	r.Use(AccessLogMiddleware(cfg.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Paths != nil {
		r.Get("/api/person/path/", cfg.Paths.ServeHTTP)
	}
	if cfg.Persons != nil {
		r.Post("/api/person/", cfg.Persons.Create)
		r.Delete("/api/person/{id}", cfg.Persons.Delete)
	}
	if cfg.Ingest != nil {
		r.Post("/v1/events", cfg.Ingest.ServeHTTP)
	}

	r.Get("/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{}
		if cfg.Cache != nil {
			hits, misses, evictions, invalidations := cfg.Cache.Stats()
			resp["cache"] = map[string]interface{}{
				"entries":       cfg.Cache.Len(),
				"size_bytes":    cfg.Cache.SizeBytes(),
				"hits":          hits,
				"misses":        misses,
				"evictions":     evictions,
				"invalidations": invalidations,
			}
		}
		if cfg.Stats != nil {
			resp["top_queries"] = cfg.Stats.GetTopQueries(10)
			resp["top_start_keys"] = cfg.Stats.GetTopStartKeys(10)
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return r
}
