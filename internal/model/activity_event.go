package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActivityEventType string

const (
	EventStageEntered         ActivityEventType = "stage_entered"
	EventStageCompleted       ActivityEventType = "stage_completed"
	EventVideoProgress        ActivityEventType = "video_progress"
	EventSlideViewed          ActivityEventType = "slide_viewed"
	EventEnforcementViolation ActivityEventType = "enforcement_violation"
	EventAttemptStarted       ActivityEventType = "attempt_started"
	EventAttemptSubmitted     ActivityEventType = "attempt_submitted"
	EventAttemptExpired       ActivityEventType = "attempt_expired"
	EventAttemptAbandoned     ActivityEventType = "attempt_abandoned"
)

// ActivityEvent 作答过程的遥测事件，只追加，不更新不删除。
// 故意不用 BaseModel：没有 UpdatedAt/DeletedAt。
// swagger:model ActivityEvent
type ActivityEvent struct {
	ID        string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AttemptID string            `gorm:"type:varchar(36);index:idx_event_attempt_created" json:"attemptId"`
	EventType ActivityEventType `gorm:"size:40" json:"eventType"`
	Payload   datatypes.JSON    `gorm:"type:json" json:"payload"`
	CreatedAt time.Time         `gorm:"index:idx_event_attempt_created" json:"createdAt"`
}

func (ActivityEvent) TableName() string {
	return "activity_events"
}

func (e *ActivityEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return
}
