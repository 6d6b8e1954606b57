package service

import (
	"context"
	"encoding/json"
	"errors"
	"staged_exam_backend/internal/model"
	"staged_exam_backend/internal/util"
	"staged_exam_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// AnswerAggregator 维护一次作答跨所有环节的唯一答案表。
// 无状态：每次调用基于传入的 attempt 快照做浅合并，写入走版本 CAS，
// 输掉竞争的写方拿到 ErrVersionConflict，重试策略留给调用层。
type AnswerAggregator struct {
	store AttemptStore
	log   *zap.Logger
}

func NewAnswerAggregator(store AttemptStore, log *zap.Logger) *AnswerAggregator {
	return &AnswerAggregator{store: store, log: log}
}

// Save 把 delta 浅合并进答案表：delta 里的键覆盖旧值，没出现的键原样保留。
// 成功时返回合并后的完整答案表和新版本号；expected_version 不匹配时
// 返回 ErrVersionConflict 且不产生任何部分写入。
// allowedQuestions 非空时校验 delta 的键都属于本场考试的题目。
func (a *AnswerAggregator) Save(ctx context.Context, attempt *model.ExamAttempt, delta map[string]interface{}, expectedVersion int64, allowedQuestions map[string]bool) (map[string]interface{}, int64, error) {
	if attempt.CompletionStatus.IsTerminal() {
		return nil, 0, util.ErrAttemptTerminal
	}
	if attempt.Version != expectedVersion {
		monitoring.AnswerConflicts.Inc()
		return nil, 0, util.ErrVersionConflict
	}

	if len(allowedQuestions) > 0 {
		for qid := range delta {
			if !allowedQuestions[qid] {
				return nil, 0, util.ErrUnknownQuestion
			}
		}
	}

	merged, err := decodeAnswers(attempt.Answers)
	if err != nil {
		return nil, 0, err
	}
	for qid, val := range delta {
		merged[qid] = val
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, 0, err
	}

	if err := a.store.CompareAndSwapAnswers(ctx, attempt.ID, datatypes.JSON(raw), expectedVersion); err != nil {
		if errors.Is(err, util.ErrVersionConflict) {
			// 两个会话同读一个版本，CAS 只让一个赢
			monitoring.AnswerConflicts.Inc()
		}
		return nil, 0, err
	}

	newVersion := expectedVersion + 1
	attempt.Answers = datatypes.JSON(raw)
	attempt.Version = newVersion
	return merged, newVersion, nil
}

// Freeze 提交时刻复制当前答案表，交给评分协作方。
// 冻结之后的写入由状态机的终态检查挡掉。
func (a *AnswerAggregator) Freeze(attempt *model.ExamAttempt) (map[string]interface{}, error) {
	return decodeAnswers(attempt.Answers)
}

func decodeAnswers(raw datatypes.JSON) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
