package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type CompletionStatus string

const (
	AttemptInProgress CompletionStatus = "in_progress"
	AttemptSubmitted  CompletionStatus = "submitted"
	AttemptAbandoned  CompletionStatus = "abandoned"
	AttemptExpired    CompletionStatus = "expired"
)

// IsTerminal 终态不再接受任何环节/答案修改。
func (s CompletionStatus) IsTerminal() bool {
	return s == AttemptSubmitted || s == AttemptAbandoned || s == AttemptExpired
}

// ExamAttempt 一名学生对一场考试的作答实例。
// Answers 是跨环节聚合后的唯一答案表（question_id -> answer value），
// Version 每次成功变更严格 +1，用于乐观并发控制。
// swagger:model ExamAttempt
type ExamAttempt struct {
	UUIDBase

	ExamID    string `gorm:"type:varchar(36);index:idx_attempt_exam_student" json:"examId"`
	StudentID uint   `gorm:"index:idx_attempt_exam_student;type:bigint unsigned" json:"studentId"`

	StartedAt   time.Time  `json:"startedAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`

	CompletionStatus  CompletionStatus `gorm:"size:20;default:in_progress;index" json:"completionStatus"`
	CurrentStageIndex int              `json:"currentStageIndex"`

	// ActiveToken 进行中时持有 "examID/studentID"，到终态置 NULL。
	// 唯一索引借此保证同一 (exam, student) 至多一条未结束的作答，
	// 并发开考由数据库裁决。
	ActiveToken *string `gorm:"size:120;uniqueIndex:idx_attempt_active" json:"-"`

	Answers datatypes.JSON `gorm:"type:json" json:"answers"`
	Version int64          `gorm:"default:1" json:"version"`
}

// AttemptActiveToken 唯一索引的占位值。
func AttemptActiveToken(examID string, studentID uint) string {
	return fmt.Sprintf("%s/%d", examID, studentID)
}

func (ExamAttempt) TableName() string {
	return "exam_attempts"
}
