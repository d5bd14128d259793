package api

import (
	"errors"
	"net/http"

	"meridian-router.dev/meridian/internal/auth"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	token, user, err := s.auth.Login(r.Context(), req.Username, req.Password, getClientIP(r))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)
	WriteJSON(w, http.StatusOK, map[string]string{
		"username": claims.Username,
		"role":     claims.Role,
	})
}

// handleLogout records the logout in the activity trail. Tokens are
// stateless, so the client simply discards its copy.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)
	s.auth.RecordActivity(r.Context(), claims.Username, "logout", "", "", getClientIP(r))
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	claims := requestClaims(r)
	err := s.auth.ChangePassword(r.Context(), claims.Username, req.OldPassword, req.NewPassword)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		WriteError(w, http.StatusForbidden, "current password is wrong")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=2,max=64"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=admin viewer"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.auth.CreateUser(r.Context(), req.Username, req.Password, req.Role); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	claims := requestClaims(r)
	s.auth.RecordActivity(r.Context(), claims.Username, "user_created", req.Username, "", getClientIP(r))
	WriteJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	activity, err := s.store.ListActivity(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, activity)
}
