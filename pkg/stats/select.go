package stats

import (
	"context"

	log "github.com/charmbracelet/log"
)

// ChooseBackend picks the persistence strategy once at startup and is never
// retried. The stateless flag wins outright; otherwise the database is used
// only when its parameters are deliberately configured and reachable, with
// file storage as the silent fallback. When the database becomes active and
// a legacy stats file exists, its counters are merged in.
func ChooseBackend(ctx context.Context, statsPath string, sqlCfg SQLConfig, stateless bool) (Backend, *SQLBackend) {
	if stateless {
		log.Info("stateless platform flag set, persistence disabled")
		return NewMemoryBackend(), nil
	}
	if sqlCfg.Configured() {
		sqlBackend, err := NewSQLBackend(ctx, sqlCfg)
		if err != nil {
			log.Warn("database unavailable, falling back to file storage",
				"host", sqlCfg.Host, "database", sqlCfg.Database, "error", err)
		} else {
			log.Info("database storage active", "host", sqlCfg.Host, "database", sqlCfg.Database)
			legacy := NewFileBackend(statsPath)
			if legacy.Exists() {
				if err := Migrate(legacy, sqlBackend); err != nil {
					log.Warn("legacy stats migration failed", "path", statsPath, "error", err)
				}
			}
			return sqlBackend, sqlBackend
		}
	}
	log.Info("file storage active", "path", statsPath)
	return NewFileBackend(statsPath), nil
}
