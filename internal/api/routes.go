// Package api provides HTTP handlers for the phylo-tiles server.
package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phylo-tiles/server/internal/data/jsonl"
	"github.com/phylo-tiles/server/internal/service"
)

// queryTimeout bounds a single viewport query. All pipeline stages are
// bounded by dataset size, so this only guards against pathological
// parameter combinations.
const queryTimeout = 30 * time.Second

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.TreeService
	Config      *jsonl.BaseConfig
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("phylo-tiles server"))
	})

	r.Get("/config/", configHandler(cfg.Config))
	r.Get("/nodes/{id}", nodeHandler(cfg.Service))

	// Query pipeline routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(queryTimeout))
		r.Get("/nodes/", nodesHandler(cfg.Service))
		r.Get("/nodes/preview.png", previewHandler(cfg.Service))
		r.Get("/search/", searchHandler(cfg.Service))
	})

	return r
}

// writeError sends a structured error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseBound parses one optional viewport bound; it must be a finite
// float when present.
func parseBound(query url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return &v, nil
}

// parseViewport parses the four optional bounds and the x_type selector.
func parseViewport(svc *service.TreeService, query url.Values) (service.Bounds, string, error) {
	var bounds [4]*float64
	for i, name := range []string{"min_y", "max_y", "min_x", "max_x"} {
		v, err := parseBound(query, name)
		if err != nil {
			return service.Bounds{}, "", err
		}
		bounds[i] = v
	}

	xType := strings.TrimSpace(query.Get("x_type"))
	if xType == "" {
		xType = "x_dist"
	}

	return svc.EffectiveBounds(bounds[0], bounds[1], bounds[2], bounds[3]), xType, nil
}

func configHandler(cfg *jsonl.BaseConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cfg)
	}
}

func nodesHandler(svc *service.TreeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, xType, err := parseViewport(svc, r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, err := svc.QueryNodesJSON(b, xType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func nodeHandler(svc *service.TreeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid node id")
			return
		}

		data, ok, err := svc.NodeJSON(int32(id))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("node %d not found", id))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func searchHandler(svc *service.TreeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")

		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
				return
			}
			limit = v
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(svc.SearchNodes(query, limit))
	}
}

func previewHandler(svc *service.TreeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, xType, err := parseViewport(svc, r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, err := svc.RenderPreview(b, xType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}
