package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"

	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/discovery"
	"camunda-discovery/internal/health"
	"camunda-discovery/internal/schedule"

	"github.com/go-chi/chi/v5"
)

type activityView struct {
	Name    string            `json:"name"`
	Owner   string            `json:"owner"`
	Method  string            `json:"method"`
	Options map[string]string `json:"options,omitempty"`
}

type scheduleView struct {
	ID            string           `json:"id"`
	WorkflowName  string           `json:"workflowName"`
	Cron          []string         `json:"cron,omitempty"`
	Intervals     []string         `json:"intervals,omitempty"`
	TaskQueue     string           `json:"taskQueue"`
	AutoStart     bool             `json:"autoStart"`
	StartPaused   bool             `json:"startPaused"`
	OverlapPolicy string           `json:"overlapPolicy,omitempty"`
	Timezone      string           `json:"timezone,omitempty"`
	Description   string           `json:"description,omitempty"`
	State         schedule.State   `json:"state"`
	Status        *schedule.Status `json:"status,omitempty"`
}

type noteRequest struct {
	Note string `json:"note"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	report := health.Aggregate(s.registry.View(), s.schedules.View())
	code := http.StatusOK
	if report.Status == health.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false, "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}

func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeErr(w, http.StatusNotFound, "NOT_FOUND", "catalog not available")
		return
	}
	writeJSON(w, http.StatusOK, s.catalog())
}

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request) {
	acts, err := s.registry.Activities()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]activityView, 0, len(acts))
	for _, a := range acts {
		out = append(out, activityView{Name: a.Name, Owner: a.Owner, Method: a.Method, Options: a.Options})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) activityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.Stats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) validateActivities(w http.ResponseWriter, r *http.Request) {
	report, err := s.registry.Validate()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	descs := s.schedules.Descriptors()
	out := make([]scheduleView, 0, len(descs))
	for _, d := range descs {
		out = append(out, s.view(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) scheduleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.schedules.HealthStatus())
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.schedules.Descriptor(id)
	if !ok {
		s.writeError(w, errors.NewScheduleNotFoundError(id))
		return
	}
	writeJSON(w, http.StatusOK, s.view(d))
}

func (s *Server) scheduleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.schedules.Descriptor(id); !ok {
		s.writeError(w, errors.NewScheduleNotFoundError(id))
		return
	}
	if s.history == nil {
		writeErr(w, http.StatusNotFound, "NOT_FOUND", "fire history not enabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeErr(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	events, err := s.history.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("Failed to read fire history", map[string]interface{}{"scheduleId": id, "error": err.Error()})
		writeErr(w, http.StatusBadGateway, "HISTORY_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) view(d discovery.ScheduleDescriptor) scheduleView {
	v := scheduleView{
		ID:            d.ID,
		WorkflowName:  d.WorkflowName,
		Cron:          d.Cron,
		Intervals:     d.Intervals,
		TaskQueue:     s.schedules.TaskQueue(d),
		AutoStart:     d.AutoStart,
		StartPaused:   d.StartPaused,
		OverlapPolicy: d.OverlapPolicy,
		Timezone:      d.Timezone,
		Description:   d.Description,
		State:         s.schedules.State(d.ID),
	}
	if st, ok := s.schedules.ScheduleStatus(d.ID); ok {
		v.Status = &st
	}
	return v
}

func (s *Server) retrySchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.schedules.RetryFailedSetups(r.Context()))
}

func (s *Server) setupSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.schedules.SetupSchedule(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, id)
}

func (s *Server) triggerSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.schedules.TriggerSchedule(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"scheduleId": id, "result": "triggered"})
}

func (s *Server) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := decodeNote(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.schedules.PauseSchedule(r.Context(), id, req.Note); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, id)
}

func (s *Server) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := decodeNote(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.schedules.ResumeSchedule(r.Context(), id, req.Note); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, id)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := s.schedules.DeleteSchedule(r.Context(), id, force); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStatus(w http.ResponseWriter, id string) {
	st, _ := s.schedules.ScheduleStatus(id)
	writeJSON(w, http.StatusOK, st)
}

// decodeNote accepts an empty body.
func decodeNote(r *http.Request) (noteRequest, error) {
	var req noteRequest
	if r.Body == nil {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return req, err
	}
	return req, nil
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeScheduleNotManaged, errors.ErrCodeScheduleNotFound, errors.ErrCodeActivityNotFound:
		return http.StatusNotFound
	case errors.ErrCodeDeleteNotConfirmed, errors.ErrCodeScheduleExists:
		return http.StatusConflict
	case errors.ErrCodeRegistryNotInitialized, errors.ErrCodeRegistryCleared:
		return http.StatusServiceUnavailable
	case errors.ErrCodeEngineOperation, errors.ErrCodeEngineUnavailable,
		errors.ErrCodeEngineTimeout, errors.ErrCodeScheduleStoreFailed:
		return http.StatusBadGateway
	case errors.ErrCodeInvalidDescriptor:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request error", map[string]interface{}{"error": err, "code": string(code)})
	}
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	writeErr(w, status, string(code), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
