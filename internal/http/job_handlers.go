package http

import (
	"net/http"

	"github.com/MrGSommer/vacation-planner-sub001/internal/auth"
	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

// handleJobStatus returns a job and, once it has finished, folds its result
// into the owning conversation so the next load shows it.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJobStatus(r.Context(), auth.UserIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !job.Status.IsActive() {
		if err := s.deps.Engine.SyncJob(r.Context(), job); err != nil {
			s.logger.WarnContext(r.Context(), "sync finished job", "job_id", job.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRecentJob(w http.ResponseWriter, r *http.Request) {
	mode := domain.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = domain.ModeCreate
	}
	job, err := s.deps.Jobs.GetRecentCompletedJob(r.Context(), auth.UserIDFromContext(r.Context()), mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*domain.PlanJob{"job": job})
}
