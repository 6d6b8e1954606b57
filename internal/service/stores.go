package service

import (
	"context"
	"staged_exam_backend/internal/model"
	"time"

	"gorm.io/datatypes"
)

// 作答引擎对持久化协作方的全部要求。gorm 仓储实现这些接口，
// 测试用内存假实现替换。

type AttemptStore interface {
	// Create 同一 (exam, student) 已有未到终态的作答时返回 util.ErrAttemptExists。
	Create(ctx context.Context, attempt *model.ExamAttempt) error
	FindByID(ctx context.Context, id string) (*model.ExamAttempt, error)
	// FindActive 返回 (exam, student) 下唯一的未到终态作答，没有则返回 nil, nil。
	FindActive(ctx context.Context, examID string, studentID uint) (*model.ExamAttempt, error)
	// CompareAndSwapAnswers 仅当存储版本等于 expectedVersion 时写入合并后的
	// 答案表并把版本 +1，否则返回 util.ErrVersionConflict 且不产生任何变更。
	CompareAndSwapAnswers(ctx context.Context, id string, answers datatypes.JSON, expectedVersion int64) error
	UpdateStageCursor(ctx context.Context, id string, cursor int) error
	// SetCompletionStatus 只允许从 in_progress 翻转一次，作答已到终态时
	// 返回 util.ErrAttemptTerminal 且不产生任何变更。
	SetCompletionStatus(ctx context.Context, id string, status model.CompletionStatus, submittedAt *time.Time) error
	ListByExam(ctx context.Context, examID string, page, limit int) ([]model.ExamAttempt, int64, error)
}

type StageProgressStore interface {
	// Find 未写入过时返回 nil, nil。
	Find(ctx context.Context, attemptID, stageID string) (*model.StageProgressRecord, error)
	Upsert(ctx context.Context, rec *model.StageProgressRecord) error
	ListByAttempt(ctx context.Context, attemptID string) ([]model.StageProgressRecord, error)
}

// StageReader 环节定义的只读视图（注册表）。
type StageReader interface {
	// GetExam 返回考试及按 stage_order 升序排好的环节。
	GetExam(ctx context.Context, examID string) (*model.Exam, error)
}

// ActivitySink 遥测事件的落点。写入失败不影响触发它的状态变更。
type ActivitySink interface {
	Append(ctx context.Context, event *model.ActivityEvent) error
}

// ActivityReader 教师端回放一次作答的完整时间线。
type ActivityReader interface {
	ListByAttempt(ctx context.Context, attemptID string) ([]model.ActivityEvent, error)
}

// Grader 评分协作方，提交后拿到冻结答案表调用一次。评分规则不在本引擎内。
type Grader interface {
	Grade(ctx context.Context, attempt *model.ExamAttempt, answers map[string]interface{}) error
}

// SubmissionArchiver 把冻结答案快照归档到对象存储，尽力而为。
type SubmissionArchiver interface {
	Archive(ctx context.Context, attempt *model.ExamAttempt, answers map[string]interface{}) error
}
