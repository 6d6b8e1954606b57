package controller

import (
	"encoding/json"
	"errors"
	"staged_exam_backend/internal/service"
	"staged_exam_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	Attempts *service.AttemptService
}

func NewAttemptController(attempts *service.AttemptService) *AttemptController {
	return &AttemptController{Attempts: attempts}
}

// respondAttemptError 把领域错误翻译成 HTTP 语义：
// 版本冲突 409（可重试），终态 410（不可重试），非法流转/未知题目 400。
func respondAttemptError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrAttemptNotFound),
		errors.Is(err, util.ErrExamNotFound),
		errors.Is(err, util.ErrStageNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrExamNotPublished):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrVersionConflict):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, util.ErrAttemptTerminal):
		util.Gone(ctx, err.Error())
	case errors.Is(err, util.ErrIllegalTransition),
		errors.Is(err, util.ErrUnknownQuestion):
		util.BadRequest(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

// @Summary 开始作答（幂等：已有进行中的作答则恢复）
// @Tags 作答模块
// @Produce json
// @Security BearerAuth
// @Param id path string true "考试ID"
// @Success 201 {object} util.Response
// @Router /api/exams/{id}/attempts/start [post]
func (c *AttemptController) Start(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	attempt, err := c.Attempts.Start(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Created(ctx, attempt)
}

// @Summary 获取作答快照
// @Tags 作答模块
// @Produce json
// @Security BearerAuth
// @Param id path string true "作答ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id} [get]
func (c *AttemptController) Get(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	attempt, err := c.Attempts.Snapshot(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Success(ctx, attempt)
}

// @Summary 获取当前环节视图（含门槛判定）
// @Tags 作答模块
// @Produce json
// @Security BearerAuth
// @Param id path string true "作答ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/current-stage [get]
func (c *AttemptController) CurrentStage(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.Attempts.CurrentStage(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Success(ctx, view)
}

// @Summary 查询剩余时间
// @Tags 作答模块
// @Produce json
// @Security BearerAuth
// @Param id path string true "作答ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/remaining-time [get]
func (c *AttemptController) RemainingTime(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.Attempts.RemainingTime(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Success(ctx, view)
}

// @Summary 推进到下一环节
// @Tags 作答模块
// @Produce json
// @Security BearerAuth
// @Param id path string true "作答ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/advance [post]
func (c *AttemptController) Advance(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	result, err := c.Attempts.AdvanceStage(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Success(ctx, result)
}

type SaveAnswersRequest struct {
	Answers         map[string]interface{} `json:"answers" binding:"required"`
	ExpectedVersion int64                  `json:"expectedVersion" binding:"required"`
}

// @Summary 保存答案增量（乐观并发）
// @Tags 作答模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "作答ID"
// @Param body body SaveAnswersRequest true "答案增量与期望版本"
// @Success 200 {object} util.Response
// @Failure 409 {object} util.Response "版本冲突，需拉取最新状态后重试"
// @Router /api/attempts/{id}/answers [put]
func (c *AttemptController) SaveAnswers(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req SaveAnswersRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	merged, version, err := c.Attempts.SaveAnswers(ctx.Request.Context(), ctx.Param("id"), user.UserID, req.Answers, req.ExpectedVersion)
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"answers": merged, "version": version})
}

type SaveProgressRequest struct {
	Progress            json.RawMessage `json:"progress" binding:"required"`
	SlideID             string          `json:"slideId"`
	SlideOrder          int             `json:"slideOrder"`
	TimeOnPreviousSlide int             `json:"timeOnPreviousSlide"`
}

// @Summary 上报环节进度（单调合并）
// @Tags 作答模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "作答ID"
// @Param stageId path string true "环节ID"
// @Param body body SaveProgressRequest true "进度载荷，结构随环节类型变化"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/stages/{stageId}/progress [put]
func (c *AttemptController) SaveProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req SaveProgressRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	merged, err := c.Attempts.SaveStageProgress(ctx.Request.Context(), ctx.Param("id"), user.UserID, ctx.Param("stageId"), service.ProgressUpdate{
		Raw:                 req.Progress,
		SlideID:             req.SlideID,
		SlideOrder:          req.SlideOrder,
		TimeOnPreviousSlide: req.TimeOnPreviousSlide,
	})
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Success(ctx, merged)
}

// @Summary 提交作答（幂等）
// @Tags 作答模块
// @Produce json
// @Security BearerAuth
// @Param id path string true "作答ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/submit [post]
func (c *AttemptController) Submit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	attempt, err := c.Attempts.Submit(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Success(ctx, attempt)
}

// @Summary 放弃作答
// @Tags 作答模块
// @Produce json
// @Security BearerAuth
// @Param id path string true "作答ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/abandon [post]
func (c *AttemptController) Abandon(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	attempt, err := c.Attempts.Abandon(ctx.Request.Context(), ctx.Param("id"), user.UserID)
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Success(ctx, attempt)
}

// @Summary 教师端：某场考试的作答列表
// @Tags 教师模块
// @Produce json
// @Security BearerAuth
// @Param examId path string true "考试ID"
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} util.Response
// @Router /api/teacher/exams/{examId}/attempts [get]
func (c *AttemptController) ListByExam(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	attempts, total, err := c.Attempts.ListByExam(ctx.Request.Context(), ctx.Param("examId"), page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: attempts, Total: total, Page: page, Limit: limit})
}

// @Summary 教师端：回放一次作答的活动时间线
// @Tags 教师模块
// @Produce json
// @Security BearerAuth
// @Param id path string true "作答ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/attempts/{id}/timeline [get]
func (c *AttemptController) Timeline(ctx *gin.Context) {
	events, err := c.Attempts.Timeline(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondAttemptError(ctx, err)
		return
	}

	util.Success(ctx, events)
}
