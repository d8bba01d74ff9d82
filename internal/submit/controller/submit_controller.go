// Package controller exposes the submission HTTP API.
package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"gavel/internal/message"
	"gavel/internal/submit/service"
	"gavel/internal/submit/stream"
	"gavel/pkg/utils/response"
)

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService *service.SubmitService
	hub           *stream.Hub
}

// NewSubmitController creates a new SubmitController. hub may be nil when the
// websocket stream is disabled.
func NewSubmitController(submitService *service.SubmitService, hub *stream.Hub) *SubmitController {
	return &SubmitController{submitService: submitService, hub: hub}
}

// RegisterRoutes mounts the submission API under /api/v1.
func (h *SubmitController) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/api/v1/submissions")
	group.POST("", h.Create)
	group.POST("/status/batch", h.BatchStatus)
	group.GET("/:id", h.Get)
	group.GET("/:id/status", h.GetStatus)
	group.GET("/:id/results", h.GetResults)
	group.GET("/:id/source", h.GetSource)
	if h.hub != nil {
		group.GET("/:id/stream", h.Stream)
	}
}

// SubmitRequest is the submission creation payload.
type SubmitRequest struct {
	ProblemID int64  `json:"problemId" binding:"required"`
	UserID    int64  `json:"userId"`
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// Create handles submission requests.
func (h *SubmitController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	view, err := h.submitService.Submit(c.Request.Context(), service.SubmitInput{
		ProblemID:  req.ProblemID,
		UserID:     req.UserID,
		Language:   message.Language(req.Language),
		SourceCode: req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Get returns one submission.
func (h *SubmitController) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.submitService.GetSubmission(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// StatusResponse carries one submission status.
type StatusResponse struct {
	SubmissionID int64          `json:"submissionId"`
	Status       message.Status `json:"status"`
}

// GetStatus returns the status of one submission.
func (h *SubmitController) GetStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	status, err := h.submitService.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StatusResponse{SubmissionID: id, Status: status})
}

// BatchStatusRequest asks for several submission statuses at once.
type BatchStatusRequest struct {
	SubmissionIDs []int64 `json:"submissionIds" binding:"required"`
}

// BatchStatus returns statuses for multiple submissions. Unknown ids are
// omitted from the response.
func (h *SubmitController) BatchStatus(c *gin.Context) {
	var req BatchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.SubmissionIDs) == 0 {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	statuses, err := h.submitService.GetStatusBatch(c.Request.Context(), req.SubmissionIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, statuses)
}

// GetResults returns the submission with its per-test-case results.
func (h *SubmitController) GetResults(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.submitService.GetResults(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// SourceResponse carries archived source code.
type SourceResponse struct {
	SubmissionID int64  `json:"submissionId"`
	Code         string `json:"code"`
}

// GetSource returns the archived source code of a submission.
func (h *SubmitController) GetSource(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	source, err := h.submitService.GetSource(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SourceResponse{SubmissionID: id, Code: source})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid submission id")
		return 0, false
	}
	return id, true
}
