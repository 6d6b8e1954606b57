package model

import "gorm.io/datatypes"

// StageProgressRecord 某次作答在某个环节上的进度。
// Progress 的结构随环节类型变化，由 service 层解析和合并；
// 首次写入时创建，此后幂等更新，作答未到终态前不会删除。
// swagger:model StageProgressRecord
type StageProgressRecord struct {
	UUIDBase

	AttemptID string `gorm:"type:varchar(36);uniqueIndex:idx_attempt_stage" json:"attemptId"`
	StageID   string `gorm:"type:varchar(36);uniqueIndex:idx_attempt_stage" json:"stageId"`

	Progress datatypes.JSON `gorm:"type:json" json:"progress"`
}

func (StageProgressRecord) TableName() string {
	return "stage_progress_records"
}
