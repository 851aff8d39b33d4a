package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/cartcache-backend/api/responses"
	"github.com/angelmondragon/cartcache-backend/pkg/config"
	"github.com/angelmondragon/cartcache-backend/pkg/logger"
)

const (
	envHeader    = "X-CartCache-Env"
	readyTimeout = 2 * time.Second

	checkOK   = "ok"
	checkDown = "down"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ConnectivityChecker interface {
	IsConnected(ctx context.Context) bool
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady fails only when the durable store is unreachable. A cache outage
// reports "degraded" with 200, since cart operations fall back to the store.
func HealthReady(cfg *config.Config, logg *logger.Logger, store Pinger, cache ConnectivityChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := map[string]string{"store": checkOK, "cache": checkOK}
		status := "ready"
		code := http.StatusOK

		if err := store.Ping(ctx); err != nil {
			checks["store"] = checkDown
			status = "unavailable"
			code = http.StatusServiceUnavailable
			if logg != nil {
				logg.WarnErr(ctx, "health.store_unreachable", err)
			}
		}
		if !cache.IsConnected(ctx) {
			checks["cache"] = checkDown
			if code == http.StatusOK {
				status = "degraded"
			}
			if logg != nil {
				logg.Warn(ctx, "health.cache_unreachable")
			}
		}

		responses.WriteSuccessStatus(w, code, map[string]any{
			"status": status,
			"checks": checks,
		})
	}
}
