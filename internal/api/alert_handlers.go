package api

import (
	"errors"
	"net/http"

	"meridian-router.dev/meridian/internal/store"
)

type alertRequest struct {
	Name             string  `json:"name" validate:"required,max=128"`
	MetricType       string  `json:"metric_type" validate:"required"`
	Source           string  `json:"source"`
	Operator         string  `json:"operator" validate:"required,oneof=> < >= <= == !="`
	Threshold        float64 `json:"threshold"`
	Severity         string  `json:"severity" validate:"required,oneof=info warning critical"`
	Enabled          bool    `json:"enabled"`
	CheckIntervalSec int     `json:"check_interval_seconds" validate:"gte=0"`
	Recipients       string  `json:"recipients"`
}

func (req *alertRequest) toModel() *store.Alert {
	return &store.Alert{
		Name:             req.Name,
		MetricType:       req.MetricType,
		Source:           req.Source,
		Operator:         req.Operator,
		Threshold:        req.Threshold,
		Severity:         req.Severity,
		Enabled:          req.Enabled,
		CheckIntervalSec: req.CheckIntervalSec,
		Recipients:       req.Recipients,
	}
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListAlerts(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []store.Alert{}
	}
	WriteJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.store.GetAlert(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, alert)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	alert := req.toModel()
	if err := s.store.CreateAlert(r.Context(), alert); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "alert_created", alert.Name)
	WriteJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	alert := req.toModel()
	alert.ID = r.PathValue("id")
	if err := s.store.UpdateAlert(r.Context(), alert); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "alert not found")
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "alert_updated", alert.Name)
	WriteJSON(w, http.StatusOK, alert)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteAlert(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "alert not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "alert_deleted", id)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAlertInstances(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 100)

	instances, err := s.store.ListAlertInstances(r.Context(), status, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if instances == nil {
		instances = []store.AlertInstance{}
	}
	WriteJSON(w, http.StatusOK, instances)
}

func (s *Server) handleAcknowledgeInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.AcknowledgeInstance(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "alert instance not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "alert_acknowledged", id)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// audit records a user-initiated change in the activity trail.
func (s *Server) audit(r *http.Request, action, resource string) {
	claims := requestClaims(r)
	username := ""
	if claims != nil {
		username = claims.Username
	}
	s.auth.RecordActivity(r.Context(), username, action, resource, "", getClientIP(r))
}
