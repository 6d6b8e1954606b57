package service

import (
	"context"
	"encoding/json"
	"staged_exam_backend/internal/config"
	"staged_exam_backend/internal/model"
	"staged_exam_backend/internal/util"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// 内存版协作方，行为对齐 internal/repository 的 gorm 实现。

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*model.ExamAttempt
}

func newMemAttemptStore() *memAttemptStore {
	return &memAttemptStore{attempts: map[string]*model.ExamAttempt{}}
}

func cloneAttempt(a *model.ExamAttempt) *model.ExamAttempt {
	cp := *a
	cp.Answers = append(datatypes.JSON(nil), a.Answers...)
	return &cp
}

func (s *memAttemptStore) Create(ctx context.Context, attempt *model.ExamAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 对齐 gorm 实现：active token 的唯一索引挡掉第二条进行中的作答
	for _, a := range s.attempts {
		if a.ExamID == attempt.ExamID && a.StudentID == attempt.StudentID && !a.CompletionStatus.IsTerminal() {
			return util.ErrAttemptExists
		}
	}
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CompletionStatus == model.AttemptInProgress && attempt.ActiveToken == nil {
		token := model.AttemptActiveToken(attempt.ExamID, attempt.StudentID)
		attempt.ActiveToken = &token
	}
	s.attempts[attempt.ID] = cloneAttempt(attempt)
	return nil
}

func (s *memAttemptStore) FindByID(ctx context.Context, id string) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, util.ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (s *memAttemptStore) FindActive(ctx context.Context, examID string, studentID uint) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ExamID == examID && a.StudentID == studentID && !a.CompletionStatus.IsTerminal() {
			return cloneAttempt(a), nil
		}
	}
	return nil, nil
}

func (s *memAttemptStore) CompareAndSwapAnswers(ctx context.Context, id string, answers datatypes.JSON, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok || a.Version != expectedVersion {
		return util.ErrVersionConflict
	}
	a.Answers = append(datatypes.JSON(nil), answers...)
	a.Version++
	return nil
}

func (s *memAttemptStore) UpdateStageCursor(ctx context.Context, id string, cursor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return util.ErrAttemptNotFound
	}
	a.CurrentStageIndex = cursor
	a.Version++
	return nil
}

func (s *memAttemptStore) SetCompletionStatus(ctx context.Context, id string, status model.CompletionStatus, submittedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return util.ErrAttemptNotFound
	}
	// 对齐 gorm 实现：终态只能从 in_progress 翻转一次
	if a.CompletionStatus != model.AttemptInProgress {
		return util.ErrAttemptTerminal
	}
	a.CompletionStatus = status
	a.SubmittedAt = submittedAt
	a.ActiveToken = nil
	a.Version++
	return nil
}

func (s *memAttemptStore) ListByExam(ctx context.Context, examID string, page, limit int) ([]model.ExamAttempt, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExamAttempt
	for _, a := range s.attempts {
		if a.ExamID == examID {
			out = append(out, *cloneAttempt(a))
		}
	}
	return out, int64(len(out)), nil
}

type memProgressStore struct {
	mu      sync.Mutex
	records map[string]*model.StageProgressRecord
}

func newMemProgressStore() *memProgressStore {
	return &memProgressStore{records: map[string]*model.StageProgressRecord{}}
}

func progressKey(attemptID, stageID string) string {
	return attemptID + "/" + stageID
}

func (s *memProgressStore) Find(ctx context.Context, attemptID, stageID string) (*model.StageProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[progressKey(attemptID, stageID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Progress = append(datatypes.JSON(nil), rec.Progress...)
	return &cp, nil
}

func (s *memProgressStore) Upsert(ctx context.Context, rec *model.StageProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Progress = append(datatypes.JSON(nil), rec.Progress...)
	s.records[progressKey(rec.AttemptID, rec.StageID)] = &cp
	return nil
}

func (s *memProgressStore) ListByAttempt(ctx context.Context, attemptID string) ([]model.StageProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.StageProgressRecord
	for _, rec := range s.records {
		if rec.AttemptID == attemptID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type memRegistry struct {
	exams map[string]*model.Exam
}

func newMemRegistry(exams ...*model.Exam) *memRegistry {
	m := &memRegistry{exams: map[string]*model.Exam{}}
	for _, e := range exams {
		m.exams[e.ID] = e
	}
	return m
}

func (r *memRegistry) GetExam(ctx context.Context, examID string) (*model.Exam, error) {
	exam, ok := r.exams[examID]
	if !ok {
		return nil, util.ErrExamNotFound
	}
	return exam, nil
}

type memSink struct {
	mu     sync.Mutex
	events []model.ActivityEvent
}

func (s *memSink) Append(ctx context.Context, event *model.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *memSink) ListByAttempt(ctx context.Context, attemptID string) ([]model.ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ActivityEvent
	for _, e := range s.events {
		if e.AttemptID == attemptID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memSink) types(attemptID string) []model.ActivityEventType {
	events, _ := s.ListByAttempt(context.Background(), attemptID)
	out := make([]model.ActivityEventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

type recordingFinalizer struct {
	mu       sync.Mutex
	graded   []string
	archived []string
	answers  []map[string]interface{}
}

func (f *recordingFinalizer) Grade(ctx context.Context, attempt *model.ExamAttempt, answers map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graded = append(f.graded, attempt.ID)
	f.answers = append(f.answers, answers)
	return nil
}

func (f *recordingFinalizer) Archive(ctx context.Context, attempt *model.ExamAttempt, answers map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, attempt.ID)
	return nil
}

// hookedAttemptStore 在终态落库前插入回调，用来在提交的临界区内制造并发写。
type hookedAttemptStore struct {
	*memAttemptStore
	beforeStatus func()
}

func (s *hookedAttemptStore) SetCompletionStatus(ctx context.Context, id string, status model.CompletionStatus, submittedAt *time.Time) error {
	if s.beforeStatus != nil {
		s.beforeStatus()
	}
	return s.memAttemptStore.SetCompletionStatus(ctx, id, status, submittedAt)
}

// racingAttemptStore 前 misses 次 FindActive 谎报"没有进行中的作答"，
// 模拟两个开始请求同时通过重复检查的竞争窗口。
type racingAttemptStore struct {
	*memAttemptStore
	mu     sync.Mutex
	misses int
}

func (s *racingAttemptStore) FindActive(ctx context.Context, examID string, studentID uint) (*model.ExamAttempt, error) {
	s.mu.Lock()
	if s.misses > 0 {
		s.misses--
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()
	return s.memAttemptStore.FindActive(ctx, examID, studentID)
}

// stagedExam 造一场标准的三环节考试：视频(80%) -> 图文(30s) -> 测验。
func stagedExam(durationMinutes *int, endTime *time.Time) *model.Exam {
	threshold := 80.0
	readTime := 30
	slides, _ := json.Marshal([]map[string]interface{}{
		{"id": "slide-1", "order": 1},
		{"id": "slide-2", "order": 2},
	})
	questionIDs, _ := json.Marshal([]string{"q-1", "q-2", "q-3"})

	exam := &model.Exam{
		Title:           "综合测评",
		DurationMinutes: durationMinutes,
		EndTime:         endTime,
		IsPublished:     true,
	}
	exam.ID = "exam-1"
	exam.Stages = []model.ExamStage{
		{
			UUIDBase:             model.UUIDBase{ID: "stage-video"},
			ExamID:               exam.ID,
			StageType:            model.StageVideo,
			StageOrder:           1,
			EnforcementThreshold: &threshold,
		},
		{
			UUIDBase:        model.UUIDBase{ID: "stage-content"},
			ExamID:          exam.ID,
			StageType:       model.StageContent,
			StageOrder:      2,
			Slides:          slides,
			MinimumReadTime: &readTime,
		},
		{
			UUIDBase:    model.UUIDBase{ID: "stage-questions"},
			ExamID:      exam.ID,
			StageType:   model.StageQuestions,
			StageOrder:  3,
			QuestionIDs: questionIDs,
		},
	}
	return exam
}

func testAttemptConfig() config.AttemptConfig {
	cfg := config.AttemptConfig{}
	cfg.ApplyDefaults()
	return cfg
}

func testService(exam *model.Exam, clock Clock) (*AttemptService, *memAttemptStore, *memProgressStore, *memSink, *recordingFinalizer) {
	attempts := newMemAttemptStore()
	svc, progress, sink, fin := testServiceWithStore(exam, clock, attempts)
	return svc, attempts, progress, sink, fin
}

// testServiceWithStore 允许测试换掉作答存储，注入竞争行为。
func testServiceWithStore(exam *model.Exam, clock Clock, attempts AttemptStore) (*AttemptService, *memProgressStore, *memSink, *recordingFinalizer) {
	progress := newMemProgressStore()
	sink := &memSink{}
	fin := &recordingFinalizer{}
	log := zap.NewNop()

	svc := NewAttemptService(
		attempts,
		progress,
		newMemRegistry(exam),
		sink,
		NewAnswerAggregator(attempts, log),
		NewActivityLogger(sink, clock, log),
		fin,
		fin,
		clock,
		testAttemptConfig(),
		log,
	)
	return svc, progress, sink, fin
}
