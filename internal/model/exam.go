package model

import (
	"time"

	"gorm.io/datatypes"
)

// swagger:model Exam
type Exam struct {
	UUIDBase

	Title       string `gorm:"size:255" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	// 两个候选时限，都可以为空：为空即不参与截止时间计算
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`

	IsPublished bool `gorm:"default:false" json:"isPublished"`

	Stages []ExamStage `gorm:"foreignKey:ExamID" json:"stages,omitempty"`
}

func (Exam) TableName() string {
	return "exams"
}

type StageType string

const (
	StageVideo     StageType = "video"
	StageContent   StageType = "content"
	StageQuestions StageType = "questions"
)

// ExamStage 考试的一个有序环节。类型专属配置按列存放，
// 题目/幻灯片清单用 JSON 列（参考 answers 的存法）。
// swagger:model ExamStage
type ExamStage struct {
	UUIDBase

	ExamID     string    `gorm:"type:varchar(36);uniqueIndex:idx_exam_stage_order" json:"examId"`
	StageType  StageType `gorm:"size:20" json:"stageType"`
	StageOrder int       `gorm:"uniqueIndex:idx_exam_stage_order" json:"stageOrder"`
	Title      string    `gorm:"size:255" json:"title"`

	// video
	VideoURL             string   `gorm:"size:512" json:"videoUrl,omitempty"`
	EnforcementThreshold *float64 `json:"enforcementThreshold,omitempty"`

	// content
	Slides          datatypes.JSON `gorm:"type:json" json:"slides,omitempty"`
	MinimumReadTime *int           `json:"minimumReadTime,omitempty"`

	// questions
	QuestionIDs datatypes.JSON `gorm:"type:json" json:"questionIds,omitempty"`
}

func (ExamStage) TableName() string {
	return "exam_stages"
}
