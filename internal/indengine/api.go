package indengine

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"stochroc/internal/indicator"
	"stochroc/internal/metrics"
)

// serveHTTP exposes /metrics, /healthz, /reload and the /ws feed until ctx
// is done.
func (svc *Service) serveHTTP(ctx context.Context) error {
	srv := metrics.NewServer(svc.cfg.HTTPAddr, svc.health, svc.registry)
	srv.Handle("/reload", svc.reloadHandler(ctx))
	srv.Handle("/ws", svc.hub)
	srv.Start()

	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Wrap(srv.Stop(shutCtx), "http shutdown")
}

type reloadResponse struct {
	Status    string `json:"status"`
	Preserved int    `json:"preserved"`
	Created   int    `json:"created"`
}

// reloadHandler handles POST /reload with a JSON array of per-timeframe
// indicator configs. Invalid configs are rejected before reaching the engine.
func (svc *Service) reloadHandler(ctx context.Context) http.Handler {
	return reloadHandler(func(configs []indicator.TFIndicatorConfig) (reloadResult, error) {
		return svc.requestReload(ctx, configs)
	})
}

func reloadHandler(reload func([]indicator.TFIndicatorConfig) (reloadResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var configs []indicator.TFIndicatorConfig
		if err := json.NewDecoder(r.Body).Decode(&configs); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		// An empty list would drop every tracked token.
		if len(configs) == 0 {
			http.Error(w, "no timeframes configured", http.StatusBadRequest)
			return
		}
		if err := indicator.ValidateConfigs(configs); err != nil {
			http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
			return
		}

		res, err := reload(configs)
		if err != nil {
			code := http.StatusServiceUnavailable
			if errors.Is(err, indicator.ErrInvalidParameter) {
				code = http.StatusBadRequest
			}
			http.Error(w, err.Error(), code)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reloadResponse{
			Status:    "ok",
			Preserved: res.Preserved,
			Created:   res.Created,
		})
	}
}
