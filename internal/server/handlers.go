package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drover-project/drover/internal/api"
	"github.com/drover-project/drover/internal/daemon"
	"github.com/drover-project/drover/internal/health"
	"github.com/drover-project/drover/internal/monitor"
	"github.com/drover-project/drover/internal/supervisor"
	"github.com/drover-project/drover/internal/types"
	"github.com/drover-project/drover/internal/version"
)

// targetModel picks the model a status check refers to: the configured
// active model, falling back to whatever was pulled last.
func (s *Server) targetModel() string {
	if m := s.cfg.Daemon.ActiveModel; m != "" {
		return m
	}
	return s.tracker.Model()
}

// handleHealth is the main health endpoint. It always answers HTTP 200
// so polling frontends never mistake a daemon outage for a backend
// outage; the reconciled state lives in the payload.
func (s *Server) handleHealth(c *gin.Context) {
	s.tracker.CountAPICall()

	if payload, ok := s.cache.Get(); ok {
		c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", s.cache.TTLSeconds()))
		c.JSON(http.StatusOK, payload.Body)
		return
	}

	ctx := c.Request.Context()
	reachable := s.daemon.Reachable(ctx)

	model := s.targetModel()
	available := false
	var models []string
	if reachable {
		if list, err := s.daemon.ListModels(ctx); err == nil {
			for _, m := range list {
				models = append(models, m.Name)
			}
			available = model != "" && containsModel(models, model)
		}
	}

	status := s.reconciler.ComputeStatus(reachable, available, s.tracker)
	snapshot := s.tracker.Snapshot()

	daemonInfo := gin.H{
		"url":       s.daemon.BaseURL(),
		"reachable": reachable,
		"models":    models,
	}
	if reachable {
		if v, err := s.daemon.Version(ctx); err == nil {
			daemonInfo["version"] = v
		}
	}

	body := gin.H{
		"status":            "healthy",
		"actual_status":     status,
		"model":             model,
		"model_available":   available,
		"daemon":            daemonInfo,
		"download_progress": snapshot,
		"system":            monitor.Collect(),
		"timestamp":         time.Now().Unix(),
	}

	s.cache.Put(&health.CachedPayload{
		Status:   status,
		Body:     body,
		Snapshot: snapshot,
	})

	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", s.cache.TTLSeconds()))
	c.JSON(http.StatusOK, body)
}

// handleStatus is a light reconciled-status read without system info.
func (s *Server) handleStatus(c *gin.Context) {
	s.tracker.CountAPICall()

	ctx := c.Request.Context()
	reachable := s.daemon.Reachable(ctx)

	model := s.targetModel()
	available := false
	if reachable && model != "" {
		if ok, err := s.daemon.IsModelAvailable(ctx, model); err == nil {
			available = ok
		}
	}

	status := s.reconciler.ComputeStatus(reachable, available, s.tracker)
	snapshot := s.tracker.Snapshot()

	api.Success(c, gin.H{
		"status":      status,
		"model":       model,
		"downloading": snapshot.Downloading,
		"progress":    snapshot.Progress,
	})
}

// handleModels lists the models known to the daemon.
func (s *Server) handleModels(c *gin.Context) {
	models, err := s.daemon.ListModels(c.Request.Context())
	if err != nil {
		api.ErrorWithDetails(c, types.ErrDaemonUnavailable, "Model daemon is unreachable", err.Error())
		return
	}
	api.Success(c, gin.H{"models": models, "count": len(models)})
}

type downloadRequest struct {
	Model string `json:"model"`
}

// handleDownloadStart triggers a pull for the requested model.
func (s *Server) handleDownloadStart(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		api.ValidationError(c, err)
		return
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.cfg.Daemon.ActiveModel
	}
	if model == "" {
		api.BadRequest(c, "model is required")
		return
	}

	result := s.downloads.Start(model)
	switch result.Outcome {
	case supervisor.OutcomeStarted:
		api.Accepted(c, gin.H{
			"message": "Download started",
			"model":   result.Model,
			"status":  "started",
		})
	case supervisor.OutcomeAlreadyAvailable:
		api.Success(c, gin.H{
			"message": "Model already available",
			"model":   result.Model,
			"status":  "available",
		})
	case supervisor.OutcomeAlreadyRunning:
		api.Conflict(c, fmt.Sprintf("A download is already in progress for %s", result.Model))
	case supervisor.OutcomeRateLimited:
		api.RateLimited(c, "Download requests are rate limited", result.RetryAfterSeconds)
	case supervisor.OutcomeDisabled:
		api.Error(c, types.ErrDownloadsDisabled, "Model downloads are administratively disabled")
	default:
		api.InternalError(c, fmt.Errorf("unexpected download outcome: %s", result.Outcome))
	}
}

// handleDownloadProgress returns the full tracker snapshot.
func (s *Server) handleDownloadProgress(c *gin.Context) {
	api.Success(c, s.tracker.Snapshot())
}

// handleDownloadReset clears stuck download state, but only when the
// daemon independently confirms the model is present.
func (s *Server) handleDownloadReset(c *gin.Context) {
	model := s.targetModel()
	if model == "" {
		api.BadRequest(c, "no model to reset state for")
		return
	}

	available, err := s.daemon.IsModelAvailable(c.Request.Context(), model)
	if err != nil {
		api.ErrorWithDetails(c, types.ErrDaemonUnavailable, "Cannot verify model availability", err.Error())
		return
	}
	if !available {
		api.BadRequest(c, fmt.Sprintf("model %s is not available, refusing to reset download state", model))
		return
	}

	s.tracker.MarkReady()
	s.cache.Invalidate()

	api.Success(c, gin.H{
		"message": "Download state reset",
		"model":   model,
	})
}

// handleDownloadHistory lists recent download attempts.
func (s *Server) handleDownloadHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	attempts, err := s.store.ListAttempts(c.Request.Context(), limit)
	if err != nil {
		api.InternalError(c, err)
		return
	}
	api.Success(c, gin.H{"attempts": attempts, "count": len(attempts)})
}

type chatRequest struct {
	Message string                 `json:"message" binding:"required"`
	Model   string                 `json:"model"`
	Options map[string]interface{} `json:"options"`
}

// handleChat proxies a prompt to the daemon's generate endpoint.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.ValidationError(c, err)
		return
	}

	model := req.Model
	if model == "" {
		model = s.targetModel()
	}
	if model == "" {
		api.BadRequest(c, "model is required")
		return
	}

	resp, err := s.daemon.Generate(c.Request.Context(), &daemon.GenerateRequest{
		Model:   model,
		Prompt:  req.Message,
		Options: req.Options,
	})
	if err != nil {
		code := types.ErrDaemonUnavailable
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			code = types.ErrDaemonTimeout
		}
		api.ErrorWithDetails(c, code, "Generation failed", err.Error())
		return
	}

	api.Success(c, gin.H{
		"model":    resp.Model,
		"response": resp.Response,
		"done":     resp.Done,
	})
}

// handleInfo reports build and runtime information.
func (s *Server) handleInfo(c *gin.Context) {
	api.Success(c, gin.H{
		"name":           "drover",
		"version":        version.GetVersionInfo(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

// handleDebug dumps internal state for troubleshooting.
func (s *Server) handleDebug(c *gin.Context) {
	connections := 0
	if s.events != nil {
		connections = s.events.GetConnectionCount()
	}

	api.Success(c, gin.H{
		"download_progress": s.tracker.Snapshot(),
		"daemon_url":        s.daemon.BaseURL(),
		"pull_mode":         s.cfg.Download.Mode,
		"active_model":      s.cfg.Daemon.ActiveModel,
		"event_connections": connections,
		"version":           version.GetVersion(),
		"system":            monitor.Collect(),
	})
}

func containsModel(models []string, model string) bool {
	base := model
	if idx := strings.Index(base, ":"); idx >= 0 {
		base = base[:idx]
	}
	for _, m := range models {
		if m == model {
			return true
		}
		name := m
		if idx := strings.Index(name, ":"); idx >= 0 {
			name = name[:idx]
		}
		if name == base {
			return true
		}
	}
	return false
}
