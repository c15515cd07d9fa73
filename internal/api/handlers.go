package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/johnivansn/timelock/internal/policy"
	"github.com/johnivansn/timelock/internal/storage"
)

const maxBodyBytes = 64 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.deps.Enforcer.Snapshot().State,
	})
}

func (s *Server) handleForeground(w http.ResponseWriter, r *http.Request) {
	var req ForegroundRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Package = strings.TrimSpace(req.Package)

	t := time.Now()
	if req.Timestamp > 0 {
		t = time.UnixMilli(req.Timestamp)
	}

	s.deps.Journal.Record(req.Package, t)
	if req.Package != "" {
		s.deps.Enforcer.HandleForeground(req.Package, t)
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	pkg := mux.Vars(r)["package"]
	ctx := r.Context()

	res := s.deps.Evaluator.Evaluate(ctx, pkg)
	resp := EvaluationResponse{Result: res, Blocked: res.Blocked()}

	if res.Blocked() {
		info := s.deps.Evaluator.DateInfo(ctx, pkg)
		msg := policy.Message(res, info)
		resp.Message = &msg
		if res.Date {
			resp.DateInfo = &info
		}
	}
	resp.ScheduleSummary, _ = s.deps.Evaluator.ScheduleSummary(ctx, pkg)
	resp.ExpirySummary, _ = s.deps.Evaluator.ExpirySummary(ctx, pkg)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTodayUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.deps.Usage.TodayUsage(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list usage")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}
	if usage == nil {
		usage = []storage.DailyUsage{}
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Usage:     usage,
		Count:     len(usage),
		PowerSave: s.deps.Usage.PowerSave(),
	})
}

func (s *Server) handleListRestrictions(w http.ResponseWriter, r *http.Request) {
	restrictions, err := s.deps.Store.Restrictions().List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list restrictions")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve restrictions")
		return
	}
	if restrictions == nil {
		restrictions = []storage.Restriction{}
	}

	writeJSON(w, http.StatusOK, RestrictionsResponse{
		Restrictions: restrictions,
		Count:        len(restrictions),
	})
}

func (s *Server) handleDeleteRestriction(w http.ResponseWriter, r *http.Request) {
	pkg := mux.Vars(r)["package"]
	ctx := r.Context()

	if _, err := s.deps.Store.Restrictions().GetByPackage(ctx, pkg); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Restriction not found")
			return
		}
		s.logger.Error().Err(err).Str("package", pkg).Msg("Failed to get restriction")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve restriction")
		return
	}

	if err := s.deps.Store.DeleteByPackage(ctx, pkg); err != nil {
		s.logger.Error().Err(err).Str("package", pkg).Msg("Failed to delete package rules")
		writeError(w, http.StatusInternalServerError, "Failed to delete restriction")
		return
	}
	s.deps.Thresholds.Invalidate(pkg)

	s.logger.Info().Str("package", pkg).Msg("Deleted restriction and rules")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	resp := OverlayResponse{State: s.deps.Enforcer.Snapshot()}
	if last, ok := s.deps.Overlay.Last(); ok {
		resp.Overlay = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req PowerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.deps.Usage.SetPowerSave(req.Save)
	writeJSON(w, http.StatusOK, map[string]bool{"power_save": s.deps.Usage.PowerSave()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if pkg := r.URL.Query().Get("package"); pkg != "" {
		s.deps.Thresholds.Invalidate(pkg)
		writeJSON(w, http.StatusOK, SuccessResponse{Message: "Notification state cleared", Data: map[string]string{"package": pkg}})
		return
	}

	s.deps.Thresholds.ResetDaily()
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "Notification state cleared"})
}
