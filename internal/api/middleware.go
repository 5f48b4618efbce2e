package api

import (
	"errors"
	"net/http"

	"github.com/nugget/taskmate/internal/auth"
	"github.com/nugget/taskmate/internal/tasks"
)

// requireAuth resolves the Authorization header and stores the user on
// the request context. Anonymous requests get 401.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.errorResponse(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		user, err := s.auth.Authenticate(r.Context(), header)
		if errors.Is(err, auth.ErrUnauthorized) {
			s.errorResponse(w, http.StatusUnauthorized, "Invalid token.")
			return
		}
		if err != nil {
			s.logger.Error("authentication failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "Authentication unavailable")
			return
		}
		next(w, r.WithContext(auth.WithUser(r.Context(), user)))
	}
}

// currentUser returns the user stored by requireAuth.
func currentUser(r *http.Request) *tasks.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}
