// Package controller exposes the problem administration HTTP API.
package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"gavel/internal/problem/repository"
	"gavel/pkg/utils/response"
)

// ProblemController handles problem HTTP endpoints.
type ProblemController struct {
	repo repository.ProblemRepository
}

// NewProblemController creates a new ProblemController.
func NewProblemController(repo repository.ProblemRepository) *ProblemController {
	return &ProblemController{repo: repo}
}

// RegisterRoutes mounts the problem API under /api/v1.
func (h *ProblemController) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/api/v1/problems")
	group.POST("", h.Create)
	group.GET("/:id", h.Get)
	group.POST("/:id/testcases", h.AddTestCase)
}

// CreateProblemRequest is the problem creation payload.
type CreateProblemRequest struct {
	Title       string  `json:"title" binding:"required"`
	TimeLimit   float64 `json:"timeLimit" binding:"required"`
	MemoryLimit int64   `json:"memoryLimit" binding:"required"`
}

// Create registers a new problem.
func (h *ProblemController) Create(c *gin.Context) {
	var req CreateProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	problem := &repository.Problem{
		Title:       req.Title,
		TimeLimit:   req.TimeLimit,
		MemoryLimit: req.MemoryLimit,
	}
	if err := h.repo.Create(c.Request.Context(), problem); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, problem)
}

// Get returns problem metadata.
func (h *ProblemController) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	problem, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, problem)
}

// AddTestCaseRequest is the test case creation payload.
type AddTestCaseRequest struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

// AddTestCase appends a hidden test case to a problem.
func (h *ProblemController) AddTestCase(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req AddTestCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	testCase, err := h.repo.AddTestCase(c.Request.Context(), id, req.Input, req.ExpectedOutput)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, testCase)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return 0, false
	}
	return id, true
}
