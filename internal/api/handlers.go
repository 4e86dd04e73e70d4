// Package api exposes HTTP handlers for the sign-up service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"example.com/signup/internal/domain"
)

const activitiesPrefix = "/activities/"

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *zap.Logger
}

// NewHandler builds a Handler. A nil logger is replaced with a no-op logger.
func NewHandler(service *domain.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/activities", h.activities)
	mux.HandleFunc(activitiesPrefix, h.activityAction)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	activities, err := h.service.ListActivities(r.Context())
	if err != nil {
		h.serverError(w, err)
		return
	}

	resp := make(map[string]ActivityView, len(activities))
	for name, activity := range activities {
		resp[name] = toActivityView(activity)
	}
	writeJSON(w, http.StatusOK, resp)
}

// activityAction routes /activities/{name}/signup, /activities/{name}/participants
// and GET /activities/{name}. The name is taken from the decoded path and may
// itself contain slashes.
func (h *Handler) activityAction(w http.ResponseWriter, r *http.Request) {
	name, action, ok := splitActivityPath(r.URL.Path)
	switch {
	case ok && action == "signup":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.signup(w, r, name)
	case ok && action == "participants":
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.removeParticipant(w, r, name)
	case r.Method == http.MethodGet && len(r.URL.Path) > len(activitiesPrefix):
		h.getActivity(w, r, strings.TrimPrefix(r.URL.Path, activitiesPrefix))
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, name string) {
	activity, err := h.service.GetActivity(r.Context(), name)
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActivityDetail{Name: activity.Name, ActivityView: toActivityView(*activity)})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request, name string) {
	email := r.URL.Query().Get("email")
	if strings.TrimSpace(email) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing email parameter")
		return
	}

	if err := h.service.Signup(r.Context(), name, email); err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Signed up %s for %s", email, name)})
}

func (h *Handler) removeParticipant(w http.ResponseWriter, r *http.Request, name string) {
	email := r.URL.Query().Get("email")
	if strings.TrimSpace(email) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing email parameter")
		return
	}

	if err := h.service.Remove(r.Context(), name, email); err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Unregistered %s from %s", email, name)})
}

func (h *Handler) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "activity_not_found", "Activity not found")
	case errors.Is(err, domain.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, "participant_not_found", "Participant not found")
	case errors.Is(err, domain.ErrAlreadySignedUp):
		writeError(w, http.StatusBadRequest, "already_signed_up", "Student is already signed up")
	case errors.Is(err, domain.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.serverError(w, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, err error) {
	h.logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func splitActivityPath(path string) (name, action string, ok bool) {
	rest := strings.TrimPrefix(path, activitiesPrefix)
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// ActivityView is the JSON shape of one activity in GET /activities.
type ActivityView struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// ActivityDetail is the JSON shape of GET /activities/{name}.
type ActivityDetail struct {
	Name string `json:"name"`
	ActivityView
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(activity domain.Activity) ActivityView {
	participants := activity.Participants
	if participants == nil {
		participants = []string{}
	}
	return ActivityView{
		Description:     activity.Description,
		Schedule:        activity.Schedule,
		MaxParticipants: activity.MaxParticipants,
		Participants:    participants,
	}
}
