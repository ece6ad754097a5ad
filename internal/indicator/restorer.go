package indicator

import (
	"log/slog"
)

// Restorer orchestrates indicator engine state restoration on startup.
// The service tries a Redis snapshot, then SQLite, then cold-starts.
type Restorer struct {
	configs []TFIndicatorConfig
	log     *slog.Logger
}

// NewRestorer creates a new Restorer for the given indicator configs.
func NewRestorer(configs []TFIndicatorConfig) *Restorer {
	return &Restorer{
		configs: configs,
		log:     slog.Default().With("component", "restorer"),
	}
}

// RestoreFromSnap restores an engine from snap. A nil snapshot, or one that
// fails to restore, yields a cold engine; only invalid configs are an error.
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		r.log.Info("no snapshot found, cold starting indicator engine")
		return NewEngine(r.configs)
	}

	r.log.Info("restoring from snapshot",
		"version", snap.Version, "stream_id", snap.StreamID, "tokens", len(snap.Tokens))

	engine, err := RestoreEngine(r.configs, snap)
	if err != nil {
		r.log.Warn("snapshot restore failed, falling back to cold start", "err", err)
		return NewEngine(r.configs)
	}

	r.log.Info("restored indicator engine from snapshot", "tokens", engine.Tokens())
	return engine, nil
}
