package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OpenCohort/SchedulePipe/internal/models"
	"github.com/OpenCohort/SchedulePipe/internal/scheduler"
)

// activitiesHandler dispatches /v1/activities by method: GET computes the
// participant's schedule, POST applies lifecycle updates, DELETE purges the
// participant's persisted activity state.
func (s *Server) activitiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		s.getActivitiesHandler(w, r)
	case http.MethodPost:
		s.updateActivitiesHandler(w, r)
	case http.MethodDelete:
		s.deleteActivitiesHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		slog.Warn("Server.activitiesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// getActivitiesHandler computes the scheduled activity list for the window
// described by the query parameters.
func (s *Server) getActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sctx := &models.ScheduleContext{
		StudyID:       q.Get("study"),
		ParticipantID: q.Get("participant"),
		TimeZone:      q.Get("tz"),
		DataGroups:    splitCSV(q.Get("data_groups")),
		Languages:     splitCSV(q.Get("languages")),
	}
	if endsOn := q.Get("ends_on"); endsOn != "" {
		t, err := time.Parse(time.RFC3339, endsOn)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("ends_on must be RFC3339"))
			return
		}
		sctx.EndsOn = t
	}
	if createdOn := q.Get("account_created_on"); createdOn != "" {
		t, err := time.Parse(time.RFC3339, createdOn)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("account_created_on must be RFC3339"))
			return
		}
		sctx.AccountCreatedOn = t
	}
	if platform := q.Get("platform"); platform != "" {
		version, err := strconv.Atoi(q.Get("app_version"))
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("app_version must be an integer"))
			return
		}
		sctx.AppVersions = map[string]int{platform: version}
	}

	activities, err := s.svc.GetScheduledActivities(r.Context(), sctx)
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.Success(activities))
	case errors.Is(err, scheduler.ErrPartialSave):
		// The computed list is still correct; persistence will catch up next request.
		slog.Warn("Server.getActivitiesHandler: partial save", "participant", sctx.ParticipantID, "error", err)
		writeJSONResponse(w, http.StatusOK, models.Partial("Activity state could not be fully persisted", activities))
	case isClientError(err):
		slog.Warn("Server.getActivitiesHandler: bad request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error("Server.getActivitiesHandler: schedule computation failed", "participant", sctx.ParticipantID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute scheduled activities"))
	}
}

// updateRequest is the payload for applying activity lifecycle updates.
type updateRequest struct {
	ParticipantID string                      `json:"participant_id"`
	Activities    []*models.ScheduledActivity `json:"activities"`
}

// updateActivitiesHandler applies participant lifecycle changes per item.
func (s *Server) updateActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.updateActivitiesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	results, err := s.svc.UpdateScheduledActivities(r.Context(), req.ParticipantID, req.Activities)
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.Success(results))
	case errors.Is(err, scheduler.ErrPartialSave):
		slog.Warn("Server.updateActivitiesHandler: partial save", "participant", req.ParticipantID, "error", err)
		writeJSONResponse(w, http.StatusOK, models.Partial("Updates accepted but not fully persisted", results))
	case isClientError(err):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error("Server.updateActivitiesHandler: update failed", "participant", req.ParticipantID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update scheduled activities"))
	}
}

// deleteActivitiesHandler purges all persisted activity state for a participant.
func (s *Server) deleteActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant")
	if err := s.svc.DeleteActivitiesForParticipant(r.Context(), participantID); err != nil {
		if isClientError(err) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.deleteActivitiesHandler: delete failed", "participant", participantID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete activities"))
		return
	}
	slog.Info("Server.deleteActivitiesHandler: activities deleted", "participant", participantID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Activities deleted", nil))
}

// eventRequest is the payload for publishing a custom activity event.
type eventRequest struct {
	ParticipantID string    `json:"participant_id"`
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// eventsHandler records a custom event instant, e.g. a study milestone that
// downstream schedules trigger on.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.eventsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.eventsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ParticipantID == "" || req.EventID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("participant_id and event_id are required"))
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	if err := s.store.PublishEvent(r.Context(), req.ParticipantID, req.EventID, req.Timestamp); err != nil {
		slog.Error("Server.eventsHandler: event publish failed", "participant", req.ParticipantID, "event_id", req.EventID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to publish event"))
		return
	}
	slog.Info("Server.eventsHandler: event published", "participant", req.ParticipantID, "event_id", req.EventID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Event published", nil))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// isClientError reports whether the error is request-shaped and maps to a 400.
func isClientError(err error) bool {
	return errors.Is(err, models.ErrMissingParticipantID) ||
		errors.Is(err, models.ErrMissingTimeZone) ||
		errors.Is(err, models.ErrInvalidTimeZone) ||
		errors.Is(err, models.ErrMissingEndsOn) ||
		errors.Is(err, scheduler.ErrEndsOnBeforeNow) ||
		errors.Is(err, scheduler.ErrEndsOnTooFar)
}

// splitCSV splits a comma-separated query value, dropping empty entries.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
