package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/bullionstore-backend/api/responses"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

const envHeader = "X-BullionStore-Env"

// Pinger is any dependency the readiness check must reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency. Payment providers are not pinged:
// an unconfigured provider is reported per request, not as an outage.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]string, len(deps))
		var failed error
		for name, dep := range deps {
			if dep == nil {
				checks[name] = "disabled"
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "down"
				if failed == nil {
					failed = pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable").
						WithDetails(map[string]any{"checks": checks})
				}
				continue
			}
			checks[name] = "ok"
		}

		if failed != nil {
			responses.WriteError(r.Context(), logg, w, failed)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
