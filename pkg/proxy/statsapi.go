package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/tunegate/tunegate/pkg/stats"
)

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) resetHandler(scope stats.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap, err := s.engine.Reset(scope)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := map[string]any{
			"status": "ok",
			"scope":  scope,
			"stats":  snap,
		}
		if scope == stats.ScopeAll {
			resp["warning"] = "total_calls has been reset to zero"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleStorageInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"storage":             s.engine.Storage(),
		"database_configured": s.sqlBE != nil,
		"database_connected":  false,
		"stats_file":          s.cfg.StatsFilePath(),
		"backup_dir":          s.backups.Dir(),
	}
	if s.sqlBE != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		info["database_connected"] = s.sqlBE.Ping(ctx) == nil
	}
	writeJSON(w, http.StatusOK, info)
}

// handleMigrateToDB folds the legacy file snapshot into the database using
// max-merge. The source file is left in place.
func (s *Server) handleMigrateToDB(w http.ResponseWriter, _ *http.Request) {
	if s.sqlBE == nil {
		writeError(w, http.StatusBadRequest, stats.ErrNoDatabase.Error())
		return
	}
	src := stats.NewFileBackend(s.cfg.StatsFilePath())
	if !src.Exists() {
		writeError(w, http.StatusBadRequest, "no file snapshot to migrate")
		return
	}
	if err := stats.Migrate(src, s.sqlBE); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"source": src.Path(),
	})
}

func (s *Server) handleListBackups(w http.ResponseWriter, _ *http.Request) {
	infos, err := s.backups.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dir":     s.backups.Dir(),
		"backups": infos,
	})
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, _ *http.Request) {
	name, err := s.engine.CreateBackup()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"name":   name,
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.sqlBE == nil {
		writeError(w, http.StatusBadRequest, stats.ErrNoDatabase.Error())
		return
	}
	a, err := s.sqlBE.Analytics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAnalyticsExport streams recent call events as zstd-compressed JSONL.
func (s *Server) handleAnalyticsExport(w http.ResponseWriter, r *http.Request) {
	if s.sqlBE == nil {
		writeError(w, http.StatusBadRequest, stats.ErrNoDatabase.Error())
		return
	}
	events, err := s.sqlBE.RecentEvents(r.Context(), 10000)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="call-events.jsonl.zst"`)
	zw, err := zstd.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := writeEventsJSONL(zw, events); err != nil {
		log.Warn("analytics export write failed", "error", err)
	}
	if err := zw.Close(); err != nil {
		log.Warn("analytics export close failed", "error", err)
	}
}

func writeEventsJSONL(w io.Writer, events []stats.CallEvent) error {
	enc := json.NewEncoder(w)
	for _, evt := range events {
		if err := enc.Encode(evt); err != nil {
			return err
		}
	}
	return nil
}
