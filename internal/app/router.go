package app

import (
	"staged_exam_backend/docs"
	"staged_exam_backend/internal/config"
	"staged_exam_backend/internal/middleware"
	"staged_exam_backend/internal/model"
	"staged_exam_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由（无需登录）
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/profile", c.auth.GetProfile)

		// 考试定义
		authGroup.GET("/exams", c.exam.ListExams)
		authGroup.GET("/exams/:id", c.exam.GetExam)

		// 作答生命周期
		authGroup.POST("/exams/:id/attempts/start", c.attempt.Start)
		authGroup.GET("/attempts/:id", c.attempt.Get)
		authGroup.GET("/attempts/:id/current-stage", c.attempt.CurrentStage)
		authGroup.GET("/attempts/:id/remaining-time", c.attempt.RemainingTime)
		authGroup.POST("/attempts/:id/advance", c.attempt.Advance)
		authGroup.PUT("/attempts/:id/answers", c.attempt.SaveAnswers)
		authGroup.PUT("/attempts/:id/stages/:stageId/progress", c.attempt.SaveProgress)
		authGroup.POST("/attempts/:id/submit", c.attempt.Submit)
		authGroup.POST("/attempts/:id/abandon", c.attempt.Abandon)

		// 教师端
		teacher := authGroup.Group("/teacher")
		teacher.Use(middleware.RoleMiddleware(model.Teacher))
		{
			teacher.GET("/exams/:examId/attempts", c.attempt.ListByExam)
			teacher.GET("/attempts/:id/timeline", c.attempt.Timeline)
		}
	}
}
