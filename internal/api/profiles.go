package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Uttam1728/mcp-toolkit/internal/store"
)

// ProfileRequest is the create/update payload for a server profile.
type ProfileRequest struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	SSEURL   string            `json:"sse_url,omitempty"`
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Inactive bool              `json:"inactive,omitempty"`
	Source   string            `json:"source,omitempty"`
}

func (s *Server) profilesOr503(w http.ResponseWriter) bool {
	if s.profiles == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "profile store not configured")
		return false
	}
	return true
}

// profileError maps store sentinel errors onto HTTP status codes.
func (s *Server) profileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUnauthorized):
		s.errorResponse(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrDuplicateName):
		s.errorResponse(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("profile store failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "profile store error")
	}
}

func (s *Server) handleProfileList(w http.ResponseWriter, r *http.Request) {
	if !s.profilesOr503(w) {
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	profiles, err := s.profiles.List(userID(r), activeOnly)
	if err != nil {
		s.profileError(w, err)
		return
	}
	if profiles == nil {
		profiles = []*store.Profile{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":   len(profiles),
		"servers": profiles,
	}, s.logger)
}

func (s *Server) handleProfileCreate(w http.ResponseWriter, r *http.Request) {
	if !s.profilesOr503(w) {
		return
	}

	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile := &store.Profile{
		UserID:   userID(r),
		Name:     req.Name,
		Type:     req.Type,
		SSEURL:   req.SSEURL,
		Command:  req.Command,
		Args:     req.Args,
		Env:      req.Env,
		Inactive: req.Inactive,
		Source:   req.Source,
	}
	if err := s.profiles.Create(profile); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			s.profileError(w, err)
		} else {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, profile, s.logger)
}

func (s *Server) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	if !s.profilesOr503(w) {
		return
	}

	profile, err := s.profiles.Get(userID(r), r.PathValue("id"))
	if err != nil {
		s.profileError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, profile, s.logger)
}

func (s *Server) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.profilesOr503(w) {
		return
	}

	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile := &store.Profile{
		ID:       r.PathValue("id"),
		Name:     req.Name,
		Type:     req.Type,
		SSEURL:   req.SSEURL,
		Command:  req.Command,
		Args:     req.Args,
		Env:      req.Env,
		Inactive: req.Inactive,
		Source:   req.Source,
	}
	if err := s.profiles.Update(userID(r), profile); err != nil {
		s.profileError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, profile, s.logger)
}

func (s *Server) handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	if !s.profilesOr503(w) {
		return
	}

	if err := s.profiles.Delete(userID(r), r.PathValue("id")); err != nil {
		s.profileError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleRequest flips a profile's inactive flag.
type ToggleRequest struct {
	Inactive bool `json:"inactive"`
}

func (s *Server) handleProfileToggle(w http.ResponseWriter, r *http.Request) {
	if !s.profilesOr503(w) {
		return
	}

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	uid := userID(r)
	id := r.PathValue("id")
	if err := s.profiles.SetInactive(uid, id, req.Inactive); err != nil {
		s.profileError(w, err)
		return
	}

	profile, err := s.profiles.Get(uid, id)
	if err != nil {
		s.profileError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, profile, s.logger)
}
