package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"staged_exam_backend/internal/config"
	"staged_exam_backend/internal/controller"
	"staged_exam_backend/internal/repository"
	"staged_exam_backend/internal/service"
	"staged_exam_backend/pkg/configwatcher"
	"staged_exam_backend/pkg/database"
	"staged_exam_backend/pkg/logger"
	"staged_exam_backend/pkg/monitoring"
	"staged_exam_backend/pkg/security"
	"staged_exam_backend/pkg/tracing"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services
	tracer   *sdktrace.TracerProvider
}

type repositories struct {
	user          *repository.UserRepository
	exam          *repository.ExamRepository
	attempt       *repository.AttemptRepository
	stageProgress *repository.StageProgressRepository
	activityEvent *repository.ActivityEventRepository
}

type services struct {
	auth     *service.AuthService
	registry *service.StageRegistryService
	attempts *service.AttemptService
	clock    *service.OffsetClock
}

type controllers struct {
	auth    *controller.AuthController
	exam    *controller.ExamController
	attempt *controller.AttemptController
	health  *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:          repository.NewUserRepository(db),
		exam:          repository.NewExamRepository(db),
		attempt:       repository.NewAttemptRepository(db),
		stageProgress: repository.NewStageProgressRepository(db),
		activityEvent: repository.NewActivityEventRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.clock = service.NewOffsetClock(cfg.Attempt.ClockOffsetMs)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.registry = service.NewStageRegistryService(
		repos.exam,
		rdb,
		time.Duration(cfg.Attempt.StageCacheTTLSeconds)*time.Second,
		logger.Log,
	)

	aggregator := service.NewAnswerAggregator(repos.attempt, logger.Log)
	activity := service.NewActivityLogger(repos.activityEvent, s.clock, logger.Log)
	grader := service.NewLoggingGrader(logger.Log)
	archiver := service.NewArchiveService(cfg, logger.Log)

	s.attempts = service.NewAttemptService(
		repos.attempt,
		repos.stageProgress,
		s.registry,
		repos.activityEvent,
		aggregator,
		activity,
		grader,
		archiver,
		s.clock,
		cfg.Attempt,
		logger.Log,
	)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth),
		exam:    controller.NewExamController(s.registry),
		attempt: controller.NewAttemptController(s.attempts),
		health:  controller.NewHealthController(db),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 100000
	}
	windowMinutes := cfg.RateLimit.WindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	router.Use(security.RateLimiter(maxRequests, time.Duration(windowMinutes)*time.Minute))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// watchConfig 配置热更新：目前只有计时策略和时钟偏移是可热调的，
// 其余（数据库、端口等）仍需重启。
func (a *App) watchConfig() {
	go configwatcher.WatchConfig("configs/config.yaml", func(newCfg *config.Config) {
		a.services.attempts.UpdatePolicy(newCfg.Attempt)
		a.services.clock.SetOffset(newCfg.Attempt.ClockOffsetMs)
		logger.Log.Info("runtime config reloaded")
	})
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// 缓存是锦上添花，连不上就全部回源数据库
		logger.Log.Warn("Redis unavailable, stage registry cache disabled", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, db)

	monitoring.Init()

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("staged-exam-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/archives", cfg.Storage.LocalPath)
	}

	app.watchConfig()

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 先停掉所有作答会话的计时循环，作答状态本身已持久化，重启后可恢复
	a.services.attempts.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	log.Println("Server exiting")
}
