package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 作答引擎指标
	AttemptsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_finished_total",
			Help: "Attempts reaching a terminal status",
		},
		[]string{"status"},
	)

	AttemptsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "New attempts created",
		},
	)

	AnswerConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_answer_version_conflicts_total",
			Help: "Optimistic-concurrency conflicts on answer saves",
		},
	)

	TelemetryDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_telemetry_dropped_total",
			Help: "Activity events that failed to persist",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exam_active_attempt_sessions",
			Help: "Attempt sessions with a live countdown ticker",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(AttemptsStarted)
	prometheus.MustRegister(AttemptsFinished)
	prometheus.MustRegister(AnswerConflicts)
	prometheus.MustRegister(TelemetryDropped)
	prometheus.MustRegister(ActiveSessions)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
