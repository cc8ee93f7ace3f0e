package controller

import (
	"context"

	"judgerunner/internal/judge/model"
	"judgerunner/internal/judge/sandbox/profile"
	"judgerunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Runner executes judge sessions.
type Runner interface {
	Execute(ctx context.Context, req model.ExecutionRequest) (model.ExecutionReport, error)
	Languages() []profile.LanguageSpec
}

// ReportLookup finds stored session reports.
type ReportLookup interface {
	Get(ctx context.Context, sessionID string) (model.ReportEvent, error)
}

// JudgeController handles judge requests.
type JudgeController struct {
	runner  Runner
	reports ReportLookup
}

// NewJudgeController creates a new controller. reports may be nil.
func NewJudgeController(runner Runner, reports ReportLookup) *JudgeController {
	return &JudgeController{runner: runner, reports: reports}
}

// Register mounts the judge routes on a router group.
func (h *JudgeController) Register(group *gin.RouterGroup) {
	group.POST("/run", h.Run)
	group.GET("/languages", h.Languages)
	if h.reports != nil {
		group.GET("/reports/:id", h.GetReport)
	}
}

// Run evaluates one request and returns its report.
func (h *JudgeController) Run(c *gin.Context) {
	var req model.ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	report, err := h.runner.Execute(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// Languages lists supported languages.
func (h *JudgeController) Languages(c *gin.Context) {
	response.Success(c, h.runner.Languages())
}

// GetReport returns the stored report event for one session.
func (h *JudgeController) GetReport(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		response.BadRequest(c, "Invalid session id")
		return
	}
	event, err := h.reports.Get(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, event)
}
