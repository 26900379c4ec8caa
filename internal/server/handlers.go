package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/storage"
)

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	k := s.config.Recommend.DefaultK
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "k must be an integer")
			return
		}
		k = parsed
	}
	s.logger.Debug("recommendation request", zap.String("item_id", itemID), zap.Int("k", k))
	resp, err := s.engine.GetRecommendations(r.Context(), itemID, k)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	var risk models.RiskLevel
	if raw := r.URL.Query().Get("risk"); raw != "" {
		parsed, err := models.ParseRiskLevel(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		risk = parsed
	}
	alerts, err := s.storage.ListAlerts(r.Context(), risk)
	if err != nil {
		s.logger.Error("list alerts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	alert, err := s.storage.GetAlert(r.Context(), itemID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, alert)
}

// handleRefresh runs a full refresh cycle synchronously and returns its
// report. Cycles are serialized by the pipeline, so concurrent requests
// queue rather than interleave.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("refresh requested via API")
	report, err := s.pipeline.RunCycle(r.Context())
	if err != nil {
		s.logger.Error("refresh cycle failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	embCount, err := s.storage.CountCurrentEmbeddings(ctx)
	if err != nil {
		s.logger.Error("status: count embeddings failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	alertCount, err := s.storage.CountAlerts(ctx)
	if err != nil {
		s.logger.Error("status: count alerts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"embeddings": embCount,
		"alerts":     alertCount,
	}
	if snap := s.snapshots.Current(); snap != nil {
		resp["index"] = map[string]interface{}{
			"snapshot_id":          snap.ID(),
			"size":                 snap.Size(),
			"lists":                snap.NumLists(),
			"inserted_since_build": snap.InsertedSinceBuild(),
			"built_at":             snap.BuiltAt(),
			"age_seconds":          int64(snap.Age().Seconds()),
		}
	}

	resp["config"] = map[string]interface{}{
		"text_dimensions":  s.config.Embedding.TextDim,
		"image_dimensions": s.config.Embedding.ImageDim,
		"num_lists":        s.config.Index.NumLists,
		"nprobe":           s.config.Index.NProbe,
		"database_path":    s.config.Storage.DatabasePath,
		"index_path":       s.config.Storage.IndexPath,
	}
	diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath, s.config.Storage.IndexPath)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondDomainError maps domain errors onto HTTP statuses: unknown items
// are 404, caller mistakes are 400, everything else is 500.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidConfig), errors.Is(err, models.ErrDimensionMismatch):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
