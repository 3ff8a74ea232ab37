// Package httptransport assembles the public HTTP surface: the verification
// routes plus the operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eudi-verifier/internal/platform/middleware"
	"eudi-verifier/internal/transport/http/shared"
	"eudi-verifier/internal/verification/handler"
	"eudi-verifier/internal/verification/store"
	dErrors "eudi-verifier/pkg/domain-errors"
)

// RouterConfig carries the transport-level switches.
type RouterConfig struct {
	// DebugEndpoints exposes /debug/store. Never enable in production; the
	// probe writes into the live session store.
	DebugEndpoints bool
}

// HealthCheck is one named liveness probe for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewRouter wires the verification handler and operational endpoints into
// one router. Wallets post responses cross-origin, so CORS is permissive.
func NewRouter(
	cfg RouterConfig,
	logger *slog.Logger,
	verification *handler.Handler,
	sessions store.Store,
	checks ...HealthCheck,
) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	verification.Register(r)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/healthz", healthHandler(checks))

	if cfg.DebugEndpoints {
		r.Get("/debug/store", debugStoreProbe(sessions, logger))
	}

	return r
}

func healthHandler(checks []HealthCheck) http.Handler {
	opts := []health.CheckerOption{
		health.WithTimeout(5 * time.Second),
	}
	for _, c := range checks {
		opts = append(opts, health.WithCheck(health.Check{
			Name:  c.Name,
			Check: c.Check,
		}))
	}
	return health.NewHandler(health.NewChecker(opts...))
}

// debugStoreProbe writes a throwaway session, reads it back, and reports the
// round-trip latencies. Mirrors what an operator needs when diagnosing store
// slowness.
func debugStoreProbe(sessions store.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		probeID := "debug-probe-" + uuid.NewString()

		writeStart := time.Now()
		_, err := sessions.Create(ctx, probeID, uuid.NewString(), 30*time.Second)
		writeLatency := time.Since(writeStart)
		if err != nil {
			logger.ErrorContext(ctx, "store probe write failed", "error", err.Error())
			shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "store probe write failed"))
			return
		}

		readStart := time.Now()
		_, err = sessions.Get(ctx, probeID)
		readLatency := time.Since(readStart)
		if err != nil {
			logger.ErrorContext(ctx, "store probe read failed", "error", err.Error())
			shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "store probe read failed"))
			return
		}

		_ = sessions.Delete(ctx, probeID)

		shared.WriteJSON(w, http.StatusOK, map[string]any{
			"status":           "ok",
			"write_latency_ms": writeLatency.Milliseconds(),
			"read_latency_ms":  readLatency.Milliseconds(),
		})
	}
}
