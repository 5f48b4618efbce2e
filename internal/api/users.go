package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nugget/taskmate/internal/auth"
	"github.com/nugget/taskmate/internal/tasks"
)

type credentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type jwtResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// GET /api/users/
func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.internalError(w, "list users", err)
		return
	}
	if users == nil {
		users = []*tasks.User{}
	}
	s.respond(w, http.StatusOK, users)
}

// GET /api/users/{username}/
func (s *Server) handleUserGet(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUserByUsername(r.Context(), r.PathValue("username"))
	if errors.Is(err, tasks.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "Not found.")
		return
	}
	if err != nil {
		s.internalError(w, "get user", err)
		return
	}
	s.respond(w, http.StatusOK, u)
}

// POST /api/auth/token/ {"username", "password"} returns the caller's
// long-lived API key, minting it on first use.
func (s *Server) handleObtainToken(w http.ResponseWriter, r *http.Request) {
	user, ok := s.login(w, r)
	if !ok {
		return
	}
	tok, err := s.store.GetOrCreateToken(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, "get token", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"token": tok.Key})
}

// POST /api/auth/jwt/ {"username", "password"}
func (s *Server) handleObtainJWT(w http.ResponseWriter, r *http.Request) {
	if s.auth.JWT() == nil {
		s.errorResponse(w, http.StatusNotImplemented, "JWT authentication is not configured")
		return
	}
	user, ok := s.login(w, r)
	if !ok {
		return
	}
	token, expires, err := s.auth.JWT().Issue(user)
	if err != nil {
		s.internalError(w, "issue jwt", err)
		return
	}
	resp := jwtResponse{AccessToken: token, TokenType: "Bearer"}
	if !expires.IsZero() {
		resp.ExpiresAt = &expires
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) (*tasks.User, bool) {
	var req credentialsRequest
	if !s.decodeBody(w, r, &req) {
		return nil, false
	}
	user, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrUnauthorized) {
		s.errorResponse(w, http.StatusBadRequest, "Unable to log in with provided credentials.")
		return nil, false
	}
	if err != nil {
		s.internalError(w, "login", err)
		return nil, false
	}
	return user, true
}
