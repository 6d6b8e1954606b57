package service

import (
	"staged_exam_backend/internal/model"
	"sync"
	"time"
)

// AttemptSession 一次作答在本实例内的状态机载体：环节游标、计时器、
// 一次性闩锁和订阅回调都在这里，绝不放进包级变量，多场并发作答互不干扰。
//
// 同一实例内对该作答的所有变更都在 mu 下串行；跨实例（同一作答开两个
// 会话）不做互斥，靠版本号 CAS 防丢更新。
type AttemptSession struct {
	attemptID string
	examID    string
	studentID uint

	mu sync.Mutex

	timer          *AttemptTimer
	exam           *model.Exam
	stages         []model.ExamStage
	questionIDs    map[string]bool
	cursor         int
	stageEnteredAt time.Time

	onWarning []func(minutesLeft int)
	onExpire  []func()

	stopCh   chan struct{}
	stopOnce sync.Once
}

func (s *AttemptSession) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// currentStage 游标指向的环节；已越过最后一个环节（待提交）时返回 nil。
func (s *AttemptSession) currentStage() *model.ExamStage {
	if s.cursor < 0 || s.cursor >= len(s.stages) {
		return nil
	}
	return &s.stages[s.cursor]
}

func (s *AttemptSession) stageByID(stageID string) *model.ExamStage {
	for i := range s.stages {
		if s.stages[i].ID == stageID {
			return &s.stages[i]
		}
	}
	return nil
}

func (s *AttemptSession) readyForSubmission() bool {
	return s.cursor >= len(s.stages)
}
