package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/resale-ledger/api/responses"
	"github.com/angelmondragon/resale-ledger/pkg/config"
	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	pkgredis "github.com/angelmondragon/resale-ledger/pkg/redis"
)

const readyTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Resale-Ledger-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency. A nil pinger is skipped so an
// unconfigured redis does not fail readiness.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]pkgredis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Resale-Ledger-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := map[string]string{}
		failed := false
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "down"
				failed = true
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "dependency", name), "health.dependency_down")
				}
				continue
			}
			checks[name] = "up"
		}
		if failed {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
