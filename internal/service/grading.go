package service

import (
	"context"
	"staged_exam_backend/internal/model"

	"go.uber.org/zap"
)

// LoggingGrader 占位的评分协作方：真实评分由独立服务完成，
// 这里只记录交接，保证引擎侧"提交后调用一次"的契约可观测。
type LoggingGrader struct {
	log *zap.Logger
}

func NewLoggingGrader(log *zap.Logger) *LoggingGrader {
	return &LoggingGrader{log: log}
}

func (g *LoggingGrader) Grade(ctx context.Context, attempt *model.ExamAttempt, answers map[string]interface{}) error {
	g.log.Info("frozen answers handed off for grading",
		zap.String("attemptId", attempt.ID),
		zap.String("examId", attempt.ExamID),
		zap.Int("answerCount", len(answers)))
	return nil
}
