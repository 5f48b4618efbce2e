package api

import (
	"net/http"

	"github.com/nugget/taskmate/internal/chat"
)

// chatRequest caps a message at 32 KiB.
type chatRequest struct {
	Message string `json:"message" validate:"max=32768"`
}

// handleChat runs one chat turn for the caller and returns the first
// tool record, or null when no tool ran.
// POST /api/chat/ {"message": "add buy milk to my list"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req chatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !s.limiter.Allow(user.ID) {
		s.errorResponse(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	records, err := s.chat.ProcessChat(r.Context(), req.Message, user.ID)
	if err != nil {
		if chat.IsEmptyInput(err) {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("chat failed", "actor_id", user.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "An error occurred while processing your request")
		return
	}

	if len(records) == 0 {
		s.respond(w, http.StatusOK, nil)
		return
	}
	s.respond(w, http.StatusOK, records[0])
}
