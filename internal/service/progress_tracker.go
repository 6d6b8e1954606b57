package service

import (
	"staged_exam_backend/internal/model"
)

// EnforcementViolation 不是错误：是给前端展示"还差多少"的结构化数据，
// 作答停留在当前环节，不抛异常。
type EnforcementViolation struct {
	StageID         string  `json:"stageId"`
	RequirementType string  `json:"requirementType"`
	CurrentValue    float64 `json:"currentValue"`
	RequiredValue   float64 `json:"requiredValue"`
}

const (
	RequirementVideoWatch  = "video_watch_percentage"
	RequirementContentRead = "content_read_time"
)

// CanAdvance 判定环节门槛是否满足。
// 进度缺失（从未写入）时：未配置强制要求视为满足，配置了则视为未满足。
func CanAdvance(stage *model.ExamStage, progress StageProgress) (bool, *EnforcementViolation) {
	switch stage.StageType {
	case model.StageVideo:
		if stage.EnforcementThreshold == nil || *stage.EnforcementThreshold <= 0 {
			return true, nil
		}
		required := *stage.EnforcementThreshold
		current := 0.0
		if p, ok := progress.(VideoProgress); ok {
			current = p.WatchPercentage
		}
		if current >= required {
			return true, nil
		}
		return false, &EnforcementViolation{
			StageID:         stage.ID,
			RequirementType: RequirementVideoWatch,
			CurrentValue:    current,
			RequiredValue:   required,
		}

	case model.StageContent:
		if stage.MinimumReadTime == nil || *stage.MinimumReadTime <= 0 {
			return true, nil
		}
		required := float64(*stage.MinimumReadTime)
		current := 0.0
		if p, ok := progress.(ContentProgress); ok {
			for _, secs := range p.SlideTimes {
				current += float64(secs)
			}
		}
		if current >= required {
			return true, nil
		}
		return false, &EnforcementViolation{
			StageID:         stage.ID,
			RequirementType: RequirementContentRead,
			CurrentValue:    current,
			RequiredValue:   required,
		}

	case model.StageQuestions:
		// 题目环节没有强制策略，随时可走
		return true, nil

	default:
		return true, nil
	}
}
