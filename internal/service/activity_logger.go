package service

import (
	"context"
	"encoding/json"
	"staged_exam_backend/internal/model"
	"staged_exam_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ActivityLogger 只追加的作答遥测。事件按调用顺序落库（调用方在会话锁内
// 串行触发），落库失败只记日志和指标，绝不阻塞或回滚触发它的状态变更。
type ActivityLogger struct {
	sink  ActivitySink
	clock Clock
	log   *zap.Logger
}

func NewActivityLogger(sink ActivitySink, clock Clock, log *zap.Logger) *ActivityLogger {
	return &ActivityLogger{sink: sink, clock: clock, log: log}
}

// Emit 追加一条事件。尽力而为：错误在此消化。
func (l *ActivityLogger) Emit(ctx context.Context, attemptID string, eventType model.ActivityEventType, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		monitoring.TelemetryDropped.Inc()
		l.log.Warn("activity event payload not serializable",
			zap.String("attemptId", attemptID),
			zap.String("eventType", string(eventType)),
			zap.Error(err))
		return
	}

	event := &model.ActivityEvent{
		AttemptID: attemptID,
		EventType: eventType,
		Payload:   datatypes.JSON(raw),
		CreatedAt: l.clock.Now(),
	}

	if err := l.sink.Append(ctx, event); err != nil {
		monitoring.TelemetryDropped.Inc()
		l.log.Warn("activity event dropped",
			zap.String("attemptId", attemptID),
			zap.String("eventType", string(eventType)),
			zap.Error(err))
	}
}

// 事件载荷。每种事件都带 stage_id。

type StageEnteredPayload struct {
	StageID    string          `json:"stage_id"`
	StageType  model.StageType `json:"stage_type"`
	StageOrder int             `json:"stage_order"`
}

type StageCompletedPayload struct {
	StageID        string      `json:"stage_id"`
	TimeSpent      int         `json:"time_spent"`
	CompletionData interface{} `json:"completion_data,omitempty"`
}

type VideoProgressPayload struct {
	StageID         string  `json:"stage_id"`
	WatchPercentage float64 `json:"watch_percentage"`
	CurrentPosition float64 `json:"current_position"`
}

type SlideViewedPayload struct {
	StageID             string `json:"stage_id"`
	SlideID             string `json:"slide_id"`
	SlideOrder          int    `json:"slide_order"`
	TimeOnPreviousSlide int    `json:"time_on_previous_slide"`
}

type EnforcementViolationPayload struct {
	StageID         string  `json:"stage_id"`
	RequirementType string  `json:"requirement_type"`
	CurrentValue    float64 `json:"current_value"`
	RequiredValue   float64 `json:"required_value"`
}
