package controller

import (
	"errors"
	"staged_exam_backend/internal/service"
	"staged_exam_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ExamController struct {
	Registry *service.StageRegistryService
}

func NewExamController(registry *service.StageRegistryService) *ExamController {
	return &ExamController{Registry: registry}
}

// @Summary 获取已发布考试列表
// @Tags 考试模块
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} util.Response
// @Router /api/exams [get]
func (c *ExamController) ListExams(ctx *gin.Context) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	exams, total, err := c.Registry.ListPublished(page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: exams, Total: total, Page: page, Limit: limit})
}

// @Summary 获取考试定义（含有序环节）
// @Tags 考试模块
// @Produce json
// @Security BearerAuth
// @Param id path string true "考试ID"
// @Success 200 {object} util.Response
// @Router /api/exams/{id} [get]
func (c *ExamController) GetExam(ctx *gin.Context) {
	exam, err := c.Registry.GetExam(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, util.ErrExamNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, exam)
}
