package api

import (
	"net/http"
	"time"

	"github.com/nugget/taskmate/internal/buildinfo"
	"github.com/nugget/taskmate/internal/connwatch"
	"github.com/nugget/taskmate/internal/usage"
)

// defaultUsageWindow is how far back /api/usage/ looks without ?since=.
const defaultUsageWindow = 30 * 24 * time.Hour

type healthResponse struct {
	Status   string                      `json:"status"`
	Services map[string]connwatch.Status `json:"services,omitempty"`
}

// handleHealth always answers 200 while the process serves HTTP. A
// down dependency marks the response degraded; task CRUD keeps working
// without the model provider.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy"}
	if s.health != nil {
		resp.Services = s.health.Status()
		for _, st := range resp.Services {
			if !st.Ready {
				resp.Status = "degraded"
			}
		}
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, buildinfo.RuntimeInfo())
}

type usageResponse struct {
	Since   time.Time                 `json:"since"`
	Until   time.Time                 `json:"until"`
	Total   *usage.Summary            `json:"total"`
	ByModel map[string]*usage.Summary `json:"by_model"`
}

// handleUsage reports the caller's model usage. ?since= takes a Go
// duration such as 24h.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusNotImplemented, "Usage tracking is not enabled")
		return
	}

	window := defaultUsageWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "since must be a positive duration")
			return
		}
		window = d
	}

	until := time.Now().UTC()
	since := until.Add(-window)
	actor := currentUser(r).ID

	total, err := s.usage.Summary(r.Context(), actor, since, until)
	if err != nil {
		s.internalError(w, "usage summary", err)
		return
	}
	byModel, err := s.usage.SummaryByModel(r.Context(), actor, since, until)
	if err != nil {
		s.internalError(w, "usage by model", err)
		return
	}
	s.respond(w, http.StatusOK, usageResponse{Since: since, Until: until, Total: total, ByModel: byModel})
}
