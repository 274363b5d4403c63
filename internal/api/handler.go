package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
	"github.com/kurihiro0119/github-issue-extractor/internal/logger"
)

// Service is the job lifecycle the handlers expose
type Service interface {
	List(ctx context.Context) ([]*domain.Extraction, error)
	Get(ctx context.Context, id string) (*domain.Extraction, error)
	Create(ctx context.Context, owner, name string) (*domain.Extraction, error)
	Start(ctx context.Context, id, token string) (*domain.Extraction, error)
	Pause(ctx context.Context, id string) (*domain.Extraction, error)
}

// Response is the envelope of every API answer
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// CreateRequest is the body of POST /api/extractions
type CreateRequest struct {
	Owner    string `json:"owner"`
	RepoName string `json:"repoName"`
}

// StartRequest is the body of POST /api/extractions/:id/start
type StartRequest struct {
	Token string `json:"token"`
}

// Handler handles API requests
type Handler struct {
	service      Service
	defaultToken string
}

// NewHandler creates a new API handler. defaultToken is used when a start
// request carries no token.
func NewHandler(service Service, defaultToken string) *Handler {
	return &Handler{
		service:      service,
		defaultToken: defaultToken,
	}
}

// ListExtractions returns every job
// GET /api/extractions
func (h *Handler) ListExtractions(c *gin.Context) {
	jobs, err := h.service.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Extraction{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: jobs})
}

// GetExtraction returns one job
// GET /api/extractions/:id
func (h *Handler) GetExtraction(c *gin.Context) {
	job, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: job})
}

// CreateExtraction registers a pending job
// POST /api/extractions
func (h *Handler) CreateExtraction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Owner) == "" || strings.TrimSpace(req.RepoName) == "" {
		respondError(c, apperrors.NewValidationError("owner and repoName are required"))
		return
	}

	job, err := h.service.Create(c.Request.Context(), req.Owner, req.RepoName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    job,
		Message: "extraction created, start it with POST /api/extractions/" + job.ID + "/start",
	})
}

// StartExtraction launches a run of the job in the background
// POST /api/extractions/:id/start
func (h *Handler) StartExtraction(c *gin.Context) {
	var req StartRequest
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, apperrors.NewValidationError("invalid request body"))
		return
	}
	token := req.Token
	if token == "" {
		token = h.defaultToken
	}
	if strings.TrimSpace(token) == "" {
		respondError(c, apperrors.NewValidationError("a GitHub token is required in the body or the environment"))
		return
	}

	job, err := h.service.Start(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true, Data: job, Message: "extraction started"})
}

// PauseExtraction pauses a running job before its next page
// POST /api/extractions/:id/pause
func (h *Handler) PauseExtraction(c *gin.Context) {
	job, err := h.service.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: job, Message: "extraction paused"})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	message := err.Error()

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.JSON(status, Response{
		Success: false,
		Error:   message,
		Code:    string(apperrors.KindOf(err)),
	})
}
