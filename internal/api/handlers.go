package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/reengage/internal/campaign"
	"github.com/foxzi/reengage/internal/models"
	"github.com/foxzi/reengage/internal/queue"
	"github.com/foxzi/reengage/internal/scheduler"
)

// ScheduleRunResponse is the response for POST /schedule/run
type ScheduleRunResponse struct {
	Success bool              `json:"success"`
	Result  *scheduler.Result `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// UnsubscribeResponse is the response for POST /users/{userID}/unsubscribe
type UnsubscribeResponse struct {
	Success         bool   `json:"success"`
	UserID          string `json:"user_id"`
	ClosedCampaigns int    `json:"closed_campaigns"`
}

// CampaignsResponse is the response for GET /campaigns
type CampaignsResponse struct {
	Campaigns []*models.Campaign `json:"campaigns"`
}

// CampaignResponse is the response for GET /campaigns/{id}
type CampaignResponse struct {
	Campaign      *models.Campaign       `json:"campaign"`
	Notifications []*models.Notification `json:"notifications"`
}

// QueueResponse is the response for GET /queue
type QueueResponse struct {
	Stats *queue.QueueStats `json:"stats"`
	Jobs  []*queue.Job      `json:"jobs"`
}

// DLQResponse is the response for GET /queue/dlq
type DLQResponse struct {
	Stats *queue.DLQStats `json:"stats"`
	Jobs  []*queue.Job    `json:"jobs"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Queue   *queue.QueueStats `json:"queue,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleScheduleRun handles POST /api/v1/schedule/run
func (s *Server) handleScheduleRun(w http.ResponseWriter, r *http.Request) {
	// A client disconnect must not abort a run half way through
	result, err := s.deps.Scheduler.Run(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrRunInProgress) {
		s.sendJSON(w, http.StatusConflict, ScheduleRunResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("manual scheduler run failed", "error", err)
		s.sendJSON(w, http.StatusInternalServerError, ScheduleRunResponse{Error: err.Error()})
		return
	}

	s.sendJSON(w, http.StatusOK, ScheduleRunResponse{Success: true, Result: result})
}

// handleUnsubscribe handles POST /api/v1/users/{userID}/unsubscribe
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	closed, err := s.deps.Campaigns.UnsubscribeUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to unsubscribe user", "user_id", userID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to unsubscribe user")
		return
	}

	s.logger.Info("user unsubscribed via API", "user_id", userID, "closed_campaigns", closed)
	s.sendJSON(w, http.StatusOK, UnsubscribeResponse{
		Success:         true,
		UserID:          userID,
		ClosedCampaigns: closed,
	})
}

// handleResubscribe handles POST /api/v1/users/{userID}/resubscribe
func (s *Server) handleResubscribe(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := s.deps.Campaigns.ResubscribeUser(r.Context(), userID); err != nil {
		s.logger.Error("failed to resubscribe user", "user_id", userID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to resubscribe user")
		return
	}

	s.logger.Info("user resubscribed via API", "user_id", userID)
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": userID,
	})
}

// handleClick handles POST /api/v1/notifications/{id}/click
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.deps.Campaigns.RecordClick(r.Context(), id)
	if errors.Is(err, campaign.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to record click", "notification_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to record click")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCampaigns handles GET /api/v1/campaigns
func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.CampaignListFilter{
		UserID:     q.Get("user_id"),
		ActiveOnly: q.Get("active") == "true",
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	campaigns, err := s.deps.Campaigns.ListCampaigns(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []*models.Campaign{}
	}

	s.sendJSON(w, http.StatusOK, CampaignsResponse{Campaigns: campaigns})
}

// handleCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.deps.Campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	notes, err := s.deps.Campaigns.ListNotifications(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list notifications", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	if notes == nil {
		notes = []*models.Notification{}
	}

	s.sendJSON(w, http.StatusOK, CampaignResponse{Campaign: c, Notifications: notes})
}

// handleDailyMetrics handles GET /api/v1/metrics/daily/{date}
func (s *Server) handleDailyMetrics(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		s.sendError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	m, err := s.deps.Metrics.GetDailyMetrics(r.Context(), date)
	if err != nil {
		s.logger.Error("failed to get daily metrics", "date", date, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get daily metrics")
		return
	}
	if m == nil {
		s.sendError(w, http.StatusNotFound, "No metrics for this date")
		return
	}

	s.sendJSON(w, http.StatusOK, m)
}

// handleRecordDailyMetrics handles POST /api/v1/metrics/daily
func (s *Server) handleRecordDailyMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Metrics.RecordDailyMetrics(r.Context())
	if err != nil {
		s.logger.Error("failed to record daily metrics", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to record daily metrics")
		return
	}

	s.sendJSON(w, http.StatusOK, m)
}

// handleQueue handles GET /api/v1/queue
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get queue stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get queue stats")
		return
	}

	jobs, err := s.deps.Queue.List(r.Context(), queue.ListFilter{
		Status: queue.JobStatus(r.URL.Query().Get("status")),
		Limit:  100,
	})
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}

	s.sendJSON(w, http.StatusOK, QueueResponse{Stats: stats, Jobs: jobs})
}

// handleDeleteJob handles DELETE /api/v1/queue/{id}
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.deps.Queue.Delete(r.Context(), id)
	if errors.Is(err, queue.ErrJobNotFound) {
		s.sendError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete job", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.deps.Queue != nil {
		resp.Queue, _ = s.deps.Queue.Stats(r.Context())
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid number")
	}
	return n, nil
}

// Dead Letter Queue handlers

// handleDLQ handles GET /api/v1/queue/dlq
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.DLQStats(r.Context())
	if err != nil {
		s.logger.Error("failed to get DLQ stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get DLQ stats")
		return
	}

	jobs, err := s.deps.Queue.ListDLQ(r.Context(), 100, 0)
	if err != nil {
		s.logger.Error("failed to list DLQ jobs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list DLQ jobs")
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}

	s.sendJSON(w, http.StatusOK, DLQResponse{Stats: stats, Jobs: jobs})
}

// handleDLQGet handles GET /api/v1/queue/dlq/{id}
func (s *Server) handleDLQGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.deps.Queue.GetFromDLQ(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get DLQ job", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get DLQ job")
		return
	}
	if job == nil {
		s.sendError(w, http.StatusNotFound, "Job not found in DLQ")
		return
	}

	s.sendJSON(w, http.StatusOK, job)
}

// handleDLQRetry handles POST /api/v1/queue/dlq/{id}/retry
func (s *Server) handleDLQRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.deps.Queue.RetryFromDLQ(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		s.sendError(w, http.StatusNotFound, "Job not found in DLQ")
		return
	case errors.Is(err, queue.ErrDuplicateJob):
		s.sendError(w, http.StatusConflict, "Campaign already has a queued job")
		return
	case err != nil:
		s.logger.Error("failed to retry DLQ job", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to retry job")
		return
	}

	s.logger.Info("job retried from DLQ", "id", id)
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Job moved to pending queue",
	})
}

// handleDLQDelete handles DELETE /api/v1/queue/dlq/{id}
func (s *Server) handleDLQDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.deps.Queue.DeleteFromDLQ(r.Context(), id)
	if errors.Is(err, queue.ErrJobNotFound) {
		s.sendError(w, http.StatusNotFound, "Job not found in DLQ")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete DLQ job", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}

	s.logger.Info("job deleted from DLQ", "id", id)
	w.WriteHeader(http.StatusNoContent)
}
