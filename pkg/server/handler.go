package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-research/pkg/database"
)

type Handler struct {
	Service *Service
	MCP     http.Handler
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s, MCP: NewMCPHandler(s)}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Any("/mcp", gin.WrapH(h.MCP))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/research", h.createJob)
		api.GET("/research", h.listJobs)
		api.GET("/research/:id", h.getJob)
		api.GET("/research/:id/logs", h.getJobLogs)
		api.GET("/research/:id/report", h.getReport)
	}
}

func (h *Handler) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Service.CreateJob(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *Handler) listJobs(c *gin.Context) {
	jobs, err := h.Service.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []database.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) getJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	job, err := h.Service.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) getJobLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	logs, err := h.Service.GetJobLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []database.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) getReport(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	job, report, err := h.Service.Report(c.Request.Context(), id)
	if err != nil {
		resp := gin.H{"error": err.Error()}
		if job != nil {
			resp["status"] = job.Status
		}
		c.JSON(statusFor(err), resp)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="research-%s.md"`, job.ID))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(report))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrReportNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
