package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jjudge-oj/mediastore/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// StorageTester reports whether the storage backend is reachable.
type StorageTester interface {
	Test(ctx context.Context) error
}

// HealthResponse is the payload of the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// Healthz reports 200 when the storage backend accepts our credentials and
// 503 otherwise.
func Healthz(tester StorageTester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := tester.Test(ctx); err != nil {
			logging.L().Warn("storage health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Storage: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Storage: "ok"})
	}
}
