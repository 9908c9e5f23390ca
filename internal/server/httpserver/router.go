package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/yndnr/mchttp-go/internal/infra/buildinfo"
	"github.com/yndnr/mchttp-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the admin router.
type RouterConfig struct {
	// Metrics is exposed at /metrics. Nil disables the route.
	Metrics *metric.Registry

	// Identities backs /identities. Nil reports an empty list.
	Identities metric.IdentitySource

	// Ready reports whether the content listener is serving.
	Ready func() bool

	// Logger for request logging.
	Logger *slog.Logger
}

type identityView struct {
	Name     string    `json:"name"`
	NotAfter time.Time `json:"not_after"`
	LoadedAt time.Time `json:"loaded_at"`
}

// NewRouter creates the admin routes with middleware applied.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"version": buildinfo.Version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil && !cfg.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.HandleFunc("GET /identities", func(w http.ResponseWriter, r *http.Request) {
		views := []identityView{}
		if cfg.Identities != nil {
			for _, id := range cfg.Identities.Identities() {
				views = append(views, identityView{
					Name:     id.Name,
					NotAfter: id.NotAfter.UTC(),
					LoadedAt: id.LoadedAt.UTC(),
				})
			}
		}
		writeJSON(w, http.StatusOK, views)
	})

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	return Chain(mux, RequestID(), Recover(logger), Audit(logger))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
