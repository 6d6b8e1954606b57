package service

import (
	"context"
	"encoding/json"
	"errors"
	"staged_exam_backend/internal/config"
	"staged_exam_backend/internal/model"
	"staged_exam_backend/internal/util"
	"staged_exam_backend/pkg/monitoring"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// AttemptService 作答状态机的编排者。持有本实例的活跃会话表，
// 所有环节推进、答案保存、提交/过期都从这里走，保证同一作答
// 在本实例内的变更串行。
type AttemptService struct {
	Attempts   AttemptStore
	Progress   StageProgressStore
	Registry   StageReader
	Events     ActivityReader
	Aggregator *AnswerAggregator
	Activity   *ActivityLogger
	Grader     Grader
	Archiver   SubmissionArchiver
	Clock      Clock
	log        *zap.Logger

	tick time.Duration

	mu       sync.Mutex
	sessions map[string]*AttemptSession
	policy   TimerPolicy
}

func NewAttemptService(
	attempts AttemptStore,
	progress StageProgressStore,
	registry StageReader,
	events ActivityReader,
	aggregator *AnswerAggregator,
	activity *ActivityLogger,
	grader Grader,
	archiver SubmissionArchiver,
	clock Clock,
	cfg config.AttemptConfig,
	log *zap.Logger,
) *AttemptService {
	return &AttemptService{
		Attempts:   attempts,
		Progress:   progress,
		Registry:   registry,
		Events:     events,
		Aggregator: aggregator,
		Activity:   activity,
		Grader:     grader,
		Archiver:   archiver,
		Clock:      clock,
		log:        log,
		tick:       time.Duration(cfg.TickSeconds) * time.Second,
		sessions:   make(map[string]*AttemptSession),
		policy:     TimerPolicyFromConfig(cfg),
	}
}

// UpdatePolicy 配置热更新入口：新策略同时应用到已有会话的计时器。
// 截止时间不重算（开考时已定死），只有过期防线和预警阈值跟着变。
func (s *AttemptService) UpdatePolicy(cfg config.AttemptConfig) {
	policy := TimerPolicyFromConfig(cfg)

	s.mu.Lock()
	s.policy = policy
	sessions := make([]*AttemptSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		sess.timer.policy = policy
		sess.mu.Unlock()
	}
	s.log.Info("attempt timer policy updated",
		zap.Int("expiryFloorPercent", policy.ExpiryFloorPercent),
		zap.Duration("gracePeriod", policy.GracePeriod))
}

// Start 开始作答。同一学生在同一考试下已有未结束的作答时不新建，
// 恢复该作答并原样返回，重复调用无副作用。
func (s *AttemptService) Start(ctx context.Context, examID string, studentID uint) (*model.ExamAttempt, error) {
	exam, err := s.Registry.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !exam.IsPublished {
		return nil, util.ErrExamNotPublished
	}

	if existing, err := s.Attempts.FindActive(ctx, examID, studentID); err != nil {
		return nil, err
	} else if existing != nil {
		s.ensureSession(ctx, existing, exam)
		return existing, nil
	}

	attempt := &model.ExamAttempt{
		ExamID:            examID,
		StudentID:         studentID,
		StartedAt:         s.Clock.Now(),
		CompletionStatus:  model.AttemptInProgress,
		CurrentStageIndex: 0,
		Answers:           datatypes.JSON(`{}`),
		Version:           1,
	}
	if err := s.Attempts.Create(ctx, attempt); err != nil {
		// 两个并发的开始请求都通过了上面的检查时，由存储层的唯一约束
		// 裁决：输家复用赢家刚创建的作答
		if errors.Is(err, util.ErrAttemptExists) {
			existing, ferr := s.Attempts.FindActive(ctx, examID, studentID)
			if ferr == nil && existing != nil {
				s.ensureSession(ctx, existing, exam)
				return existing, nil
			}
		}
		return nil, err
	}
	monitoring.AttemptsStarted.Inc()

	sess := s.ensureSession(ctx, attempt, exam)

	s.Activity.Emit(ctx, attempt.ID, model.EventAttemptStarted, map[string]interface{}{
		"exam_id":    examID,
		"student_id": studentID,
	})
	sess.mu.Lock()
	if stage := sess.currentStage(); stage != nil {
		s.Activity.Emit(ctx, attempt.ID, model.EventStageEntered, StageEnteredPayload{
			StageID:    stage.ID,
			StageType:  stage.StageType,
			StageOrder: stage.StageOrder,
		})
	}
	sess.mu.Unlock()

	return attempt, nil
}

// StageView 当前环节的完整视图，够前端渲染和决定能否放行"下一步"。
type StageView struct {
	Stage              *model.ExamStage      `json:"stage,omitempty"`
	StageIndex         int                   `json:"stageIndex"`
	TotalStages        int                   `json:"totalStages"`
	Progress           StageProgress         `json:"progress,omitempty"`
	CanAdvance         bool                  `json:"canAdvance"`
	Violation          *EnforcementViolation `json:"violation,omitempty"`
	ReadyForSubmission bool                  `json:"readyForSubmission"`
}

func (s *AttemptService) CurrentStage(ctx context.Context, attemptID string, studentID uint) (*StageView, error) {
	sess, _, err := s.session(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	view := &StageView{
		StageIndex:  sess.cursor,
		TotalStages: len(sess.stages),
	}
	stage := sess.currentStage()
	if stage == nil {
		view.ReadyForSubmission = true
		view.CanAdvance = false
		return view, nil
	}
	view.Stage = stage

	progress, err := s.loadProgress(ctx, attemptID, stage)
	if err != nil {
		return nil, err
	}
	view.Progress = progress
	view.CanAdvance, view.Violation = CanAdvance(stage, progress)
	return view, nil
}

// RemainingView 倒计时查询的返回。NoTimeLimit 为 true 时其余字段无意义。
type RemainingView struct {
	NoTimeLimit      bool       `json:"noTimeLimit"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	RemainingSeconds int64      `json:"remainingSeconds"`
	WarningsFired    []int      `json:"warningsFired"`
}

func (s *AttemptService) RemainingTime(ctx context.Context, attemptID string, studentID uint) (*RemainingView, error) {
	sess, _, err := s.session(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	rem, ok := sess.timer.Remaining(s.Clock.Now())
	if !ok {
		return &RemainingView{NoTimeLimit: true}, nil
	}
	return &RemainingView{
		Deadline:         sess.timer.Deadline(),
		RemainingSeconds: int64(rem / time.Second),
		WarningsFired:    sess.timer.NotifiedWarnings(),
	}, nil
}

// AdvanceResult 推进请求的结果。未通过门槛不算错误，作答停在原环节，
// Violation 告诉前端还差多少。
type AdvanceResult struct {
	Advanced           bool                  `json:"advanced"`
	CurrentStageIndex  int                   `json:"currentStageIndex"`
	ReadyForSubmission bool                  `json:"readyForSubmission"`
	Violation          *EnforcementViolation `json:"violation,omitempty"`
}

// AdvanceStage 尝试把作答推进到下一环节。只能一步一步向前，
// 越过最后一个环节后作答进入待提交态，再推进就是非法流转。
func (s *AttemptService) AdvanceStage(ctx context.Context, attemptID string, studentID uint) (*AdvanceResult, error) {
	sess, _, err := s.session(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.readyForSubmission() {
		return nil, util.ErrIllegalTransition
	}
	stage := sess.currentStage()

	progress, err := s.loadProgress(ctx, attemptID, stage)
	if err != nil {
		return nil, err
	}

	ok, violation := CanAdvance(stage, progress)
	if !ok {
		s.Activity.Emit(ctx, attemptID, model.EventEnforcementViolation, EnforcementViolationPayload{
			StageID:         violation.StageID,
			RequirementType: violation.RequirementType,
			CurrentValue:    violation.CurrentValue,
			RequiredValue:   violation.RequiredValue,
		})
		return &AdvanceResult{
			Advanced:          false,
			CurrentStageIndex: sess.cursor,
			Violation:         violation,
		}, nil
	}

	now := s.Clock.Now()
	s.Activity.Emit(ctx, attemptID, model.EventStageCompleted, StageCompletedPayload{
		StageID:        stage.ID,
		TimeSpent:      int(now.Sub(sess.stageEnteredAt) / time.Second),
		CompletionData: progress,
	})

	sess.cursor++
	if err := s.Attempts.UpdateStageCursor(ctx, attemptID, sess.cursor); err != nil {
		sess.cursor--
		return nil, err
	}

	if next := sess.currentStage(); next != nil {
		sess.stageEnteredAt = now
		s.Activity.Emit(ctx, attemptID, model.EventStageEntered, StageEnteredPayload{
			StageID:    next.ID,
			StageType:  next.StageType,
			StageOrder: next.StageOrder,
		})
	}

	return &AdvanceResult{
		Advanced:           true,
		CurrentStageIndex:  sess.cursor,
		ReadyForSubmission: sess.readyForSubmission(),
	}, nil
}

// SaveAnswers 携带 expected_version 的答案增量保存。
// 返回合并后的完整答案表和新版本号，版本不匹配返回 ErrVersionConflict。
func (s *AttemptService) SaveAnswers(ctx context.Context, attemptID string, studentID uint, delta map[string]interface{}, expectedVersion int64) (map[string]interface{}, int64, error) {
	sess, _, err := s.session(ctx, attemptID, studentID)
	if err != nil {
		return nil, 0, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// 锁内重读，拿最新版本和答案快照
	attempt, err := s.Attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, 0, err
	}
	return s.Aggregator.Save(ctx, attempt, delta, expectedVersion, sess.questionIDs)
}

// ProgressUpdate 进度上报。Raw 的结构随环节类型变化；
// SlideID 等字段是内容环节的翻页遥测提示，可为空。
type ProgressUpdate struct {
	Raw                 json.RawMessage
	SlideID             string
	SlideOrder          int
	TimeOnPreviousSlide int
}

// SaveStageProgress 合并写入某环节的进度（单调，不回退），并顺手发遥测。
func (s *AttemptService) SaveStageProgress(ctx context.Context, attemptID string, studentID uint, stageID string, upd ProgressUpdate) (StageProgress, error) {
	sess, _, err := s.session(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	stage := sess.stageByID(stageID)
	if stage == nil {
		return nil, util.ErrStageNotFound
	}

	delta, err := ParseStageProgress(stage.StageType, upd.Raw)
	if err != nil {
		return nil, err
	}

	rec, err := s.Progress.Find(ctx, attemptID, stageID)
	if err != nil {
		return nil, err
	}
	var old StageProgress
	if rec != nil {
		old, err = ParseStageProgress(stage.StageType, rec.Progress)
		if err != nil {
			// 历史数据坏了就从这次上报重新开始，不拦住考生
			s.log.Warn("stored stage progress unreadable, resetting",
				zap.String("attemptId", attemptID),
				zap.String("stageId", stageID),
				zap.Error(err))
			old = nil
		}
	}

	merged := MergeStageProgress(old, delta)
	raw, err := MarshalStageProgress(merged)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		rec = &model.StageProgressRecord{AttemptID: attemptID, StageID: stageID}
	}
	rec.Progress = raw
	if err := s.Progress.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	switch p := merged.(type) {
	case VideoProgress:
		s.Activity.Emit(ctx, attemptID, model.EventVideoProgress, VideoProgressPayload{
			StageID:         stageID,
			WatchPercentage: p.WatchPercentage,
			CurrentPosition: p.LastPosition,
		})
	case ContentProgress:
		if upd.SlideID != "" {
			s.Activity.Emit(ctx, attemptID, model.EventSlideViewed, SlideViewedPayload{
				StageID:             stageID,
				SlideID:             upd.SlideID,
				SlideOrder:          upd.SlideOrder,
				TimeOnPreviousSlide: upd.TimeOnPreviousSlide,
			})
		}
	}

	return merged, nil
}

// Submit 提交作答：冻结答案表、置终态、交给评分和归档。
// 对已提交的作答幂等（原样返回，无副作用）；已放弃/已过期则是非法流转。
// 整个"冻结 + 翻转状态"在会话锁内完成，和答案保存串行：
// 被接受的保存一定进冻结表，排在冻结之后的保存一定被终态挡回。
func (s *AttemptService) Submit(ctx context.Context, attemptID string, studentID uint) (*model.ExamAttempt, error) {
	sess, attempt, err := s.session(ctx, attemptID, studentID)
	if err != nil {
		if errors.Is(err, util.ErrAttemptTerminal) && attempt != nil {
			if attempt.CompletionStatus == model.AttemptSubmitted {
				return attempt, nil
			}
			return nil, util.ErrIllegalTransition
		}
		return nil, err
	}

	sess.mu.Lock()
	attempt, frozen, already, err := s.submitLocked(ctx, attemptID)
	sess.mu.Unlock()

	if errors.Is(err, util.ErrAttemptTerminal) {
		// 另一实例抢先翻转了状态：按落库结果裁决
		s.dropSession(attemptID)
		if cur, ferr := s.fetchOwned(ctx, attemptID, studentID); ferr == nil && cur.CompletionStatus == model.AttemptSubmitted {
			return cur, nil
		}
		return nil, util.ErrIllegalTransition
	}
	if err != nil {
		return nil, err
	}
	if already {
		return attempt, nil
	}

	s.finalize(attempt, frozen)
	s.dropSession(attemptID)
	return attempt, nil
}

// submitLocked 会话锁内的提交主体。already 表示作答已经是 submitted（幂等命中）。
func (s *AttemptService) submitLocked(ctx context.Context, attemptID string) (*model.ExamAttempt, map[string]interface{}, bool, error) {
	attempt, err := s.Attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, nil, false, err
	}
	if attempt.CompletionStatus == model.AttemptSubmitted {
		return attempt, nil, true, nil
	}
	if attempt.CompletionStatus.IsTerminal() {
		return nil, nil, false, util.ErrIllegalTransition
	}

	frozen, err := s.Aggregator.Freeze(attempt)
	if err != nil {
		return nil, nil, false, err
	}

	now := s.Clock.Now()
	if err := s.Attempts.SetCompletionStatus(ctx, attemptID, model.AttemptSubmitted, &now); err != nil {
		return nil, nil, false, err
	}
	attempt.CompletionStatus = model.AttemptSubmitted
	attempt.SubmittedAt = &now
	attempt.Version++

	s.Activity.Emit(ctx, attemptID, model.EventAttemptSubmitted, map[string]interface{}{
		"answer_count": len(frozen),
	})
	monitoring.AttemptsFinished.WithLabelValues(string(model.AttemptSubmitted)).Inc()
	return attempt, frozen, false, nil
}

// Abandon 考生主动放弃。不评分、不归档，只封存状态。
func (s *AttemptService) Abandon(ctx context.Context, attemptID string, studentID uint) (*model.ExamAttempt, error) {
	sess, attempt, err := s.session(ctx, attemptID, studentID)
	if err != nil {
		if errors.Is(err, util.ErrAttemptTerminal) && attempt != nil {
			if attempt.CompletionStatus == model.AttemptAbandoned {
				return attempt, nil
			}
			return nil, util.ErrIllegalTransition
		}
		return nil, err
	}

	sess.mu.Lock()
	attempt, err = s.abandonLocked(ctx, attemptID)
	sess.mu.Unlock()

	if errors.Is(err, util.ErrAttemptTerminal) {
		s.dropSession(attemptID)
		if cur, ferr := s.fetchOwned(ctx, attemptID, studentID); ferr == nil && cur.CompletionStatus == model.AttemptAbandoned {
			return cur, nil
		}
		return nil, util.ErrIllegalTransition
	}
	if err != nil {
		return nil, err
	}

	s.dropSession(attemptID)
	return attempt, nil
}

func (s *AttemptService) abandonLocked(ctx context.Context, attemptID string) (*model.ExamAttempt, error) {
	attempt, err := s.Attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.CompletionStatus == model.AttemptAbandoned {
		return attempt, nil
	}
	if attempt.CompletionStatus.IsTerminal() {
		return nil, util.ErrIllegalTransition
	}

	now := s.Clock.Now()
	if err := s.Attempts.SetCompletionStatus(ctx, attemptID, model.AttemptAbandoned, &now); err != nil {
		return nil, err
	}
	attempt.CompletionStatus = model.AttemptAbandoned
	attempt.SubmittedAt = &now
	attempt.Version++

	s.Activity.Emit(ctx, attemptID, model.EventAttemptAbandoned, map[string]interface{}{})
	monitoring.AttemptsFinished.WithLabelValues(string(model.AttemptAbandoned)).Inc()
	return attempt, nil
}

// Snapshot 作答当前持久化状态，提交后依旧可查。
func (s *AttemptService) Snapshot(ctx context.Context, attemptID string, studentID uint) (*model.ExamAttempt, error) {
	return s.fetchOwned(ctx, attemptID, studentID)
}

// Timeline 教师端回放一次作答的完整事件序列。
func (s *AttemptService) Timeline(ctx context.Context, attemptID string) ([]model.ActivityEvent, error) {
	if _, err := s.Attempts.FindByID(ctx, attemptID); err != nil {
		return nil, err
	}
	return s.Events.ListByAttempt(ctx, attemptID)
}

func (s *AttemptService) ListByExam(ctx context.Context, examID string, page, limit int) ([]model.ExamAttempt, int64, error) {
	return s.Attempts.ListByExam(ctx, examID, page, limit)
}

// Subscribe 注册进程内的预警/过期回调（推送网关等内部消费方用）。
func (s *AttemptService) Subscribe(ctx context.Context, attemptID string, onWarning func(minutesLeft int), onExpire func()) error {
	sess, _, err := s.session(ctx, attemptID, 0)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if onWarning != nil {
		sess.onWarning = append(sess.onWarning, onWarning)
	}
	if onExpire != nil {
		sess.onExpire = append(sess.onExpire, onExpire)
	}
	return nil
}

// Shutdown 停掉本实例所有会话的计时循环。作答本身不动，重启后可恢复。
func (s *AttemptService) Shutdown() {
	s.mu.Lock()
	sessions := make([]*AttemptSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*AttemptSession)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
		monitoring.ActiveSessions.Dec()
	}
}

// ---- 内部 ----

// fetchOwned 取作答并校验归属。studentID 为 0 时跳过校验（教师端/内部）。
// 归属不符按"不存在"处理，不向越权方泄露作答是否存在。
func (s *AttemptService) fetchOwned(ctx context.Context, attemptID string, studentID uint) (*model.ExamAttempt, error) {
	attempt, err := s.Attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if studentID != 0 && attempt.StudentID != studentID {
		return nil, util.ErrAttemptNotFound
	}
	return attempt, nil
}

// session 取（或重建）作答的活跃会话。终态作答没有会话，返回 ErrAttemptTerminal。
func (s *AttemptService) session(ctx context.Context, attemptID string, studentID uint) (*AttemptSession, *model.ExamAttempt, error) {
	attempt, err := s.fetchOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, nil, err
	}
	if attempt.CompletionStatus.IsTerminal() {
		return nil, attempt, util.ErrAttemptTerminal
	}

	exam, err := s.Registry.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, nil, err
	}
	return s.ensureSession(ctx, attempt, exam), attempt, nil
}

// ensureSession 幂等：会话已存在直接复用，否则从持久化状态重建
// （实例重启后学生回来继续作答就是走这条路）。
func (s *AttemptService) ensureSession(ctx context.Context, attempt *model.ExamAttempt, exam *model.Exam) *AttemptSession {
	s.mu.Lock()
	if sess, ok := s.sessions[attempt.ID]; ok {
		s.mu.Unlock()
		return sess
	}
	s.mu.Unlock()

	// 重建会话要先恢复环节进入时刻，否则 stage_completed 的耗时
	// 会从重启点而不是真正进入环节的时刻起算
	enteredAt := s.lastStageEnteredAt(ctx, attempt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[attempt.ID]; ok {
		return sess
	}

	now := s.Clock.Now()
	sess := &AttemptSession{
		attemptID:      attempt.ID,
		examID:         exam.ID,
		studentID:      attempt.StudentID,
		timer:          NewAttemptTimer(now, attempt.StartedAt, exam.DurationMinutes, exam.EndTime, s.policy, s.log),
		exam:           exam,
		stages:         exam.Stages,
		questionIDs:    QuestionIDSet(exam),
		cursor:         attempt.CurrentStageIndex,
		stageEnteredAt: enteredAt,
		stopCh:         make(chan struct{}),
	}
	s.sessions[attempt.ID] = sess
	monitoring.ActiveSessions.Inc()

	go s.watch(sess)
	return sess
}

// lastStageEnteredAt 从遥测时间线回溯当前环节的进入时刻。
// 刚创建的作答还没有 stage_entered 记录，退回开考时刻。
func (s *AttemptService) lastStageEnteredAt(ctx context.Context, attempt *model.ExamAttempt) time.Time {
	events, err := s.Events.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		s.log.Warn("stage entry time not recoverable from timeline",
			zap.String("attemptId", attempt.ID), zap.Error(err))
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == model.EventStageEntered {
			return events[i].CreatedAt
		}
	}
	if !attempt.StartedAt.IsZero() {
		return attempt.StartedAt
	}
	return s.Clock.Now()
}

func (s *AttemptService) dropSession(attemptID string) {
	s.mu.Lock()
	sess, ok := s.sessions[attemptID]
	if ok {
		delete(s.sessions, attemptID)
	}
	s.mu.Unlock()

	if ok {
		sess.stop()
		monitoring.ActiveSessions.Dec()
	}
}

// watch 会话的计时循环。每个 tick 只在锁内做纯计算（取预警、判过期），
// 日志、回调和过期落库都在锁外，绝不在持锁状态下做 I/O。
func (s *AttemptService) watch(sess *AttemptSession) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stopCh:
			return
		case <-ticker.C:
			now := s.Clock.Now()

			sess.mu.Lock()
			warnings := sess.timer.PendingWarnings(now)
			expired := sess.timer.ShouldExpire(now)
			onWarning := append([]func(int){}, sess.onWarning...)
			onExpire := append([]func(){}, sess.onExpire...)
			sess.mu.Unlock()

			for _, minutes := range warnings {
				s.log.Info("attempt deadline warning",
					zap.String("attemptId", sess.attemptID),
					zap.Int("minutesLeft", minutes))
				for _, cb := range onWarning {
					cb(minutes)
				}
			}

			if expired {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.expire(ctx, sess)
				cancel()
				for _, cb := range onExpire {
					cb()
				}
				return
			}
		}
	}
}

// expire 截止时间到达后的强制提交：当前答案表原样冻结、状态置为 expired。
// 作答已到终态时静默退出（考生抢在计时器前提交了）。冻结和落库同样在
// 会话锁内进行，不给答案保存留缝。
func (s *AttemptService) expire(ctx context.Context, sess *AttemptSession) {
	sess.mu.Lock()
	attempt, frozen := s.expireLocked(ctx, sess)
	sess.mu.Unlock()

	s.dropSession(sess.attemptID)
	if attempt != nil {
		s.finalize(attempt, frozen)
	}
}

// expireLocked 会话锁内的过期主体。返回 nil 表示无事可做（已终态或落库失败）。
func (s *AttemptService) expireLocked(ctx context.Context, sess *AttemptSession) (*model.ExamAttempt, map[string]interface{}) {
	attempt, err := s.Attempts.FindByID(ctx, sess.attemptID)
	if err != nil {
		s.log.Error("expired attempt not loadable",
			zap.String("attemptId", sess.attemptID), zap.Error(err))
		return nil, nil
	}
	if attempt.CompletionStatus.IsTerminal() {
		return nil, nil
	}

	frozen, err := s.Aggregator.Freeze(attempt)
	if err != nil {
		s.log.Error("expired attempt answers not readable",
			zap.String("attemptId", sess.attemptID), zap.Error(err))
		frozen = map[string]interface{}{}
	}

	now := s.Clock.Now()
	if err := s.Attempts.SetCompletionStatus(ctx, sess.attemptID, model.AttemptExpired, &now); err != nil {
		if errors.Is(err, util.ErrAttemptTerminal) {
			// 输给了并发的提交/放弃，终态已定，过期无事可做
			return nil, nil
		}
		s.log.Error("expired attempt status not persisted",
			zap.String("attemptId", sess.attemptID), zap.Error(err))
		return nil, nil
	}
	attempt.CompletionStatus = model.AttemptExpired
	attempt.SubmittedAt = &now
	attempt.Version++

	s.Activity.Emit(ctx, sess.attemptID, model.EventAttemptExpired, map[string]interface{}{
		"deadline":     sess.timer.Deadline(),
		"answer_count": len(frozen),
	})
	monitoring.AttemptsFinished.WithLabelValues(string(model.AttemptExpired)).Inc()
	return attempt, frozen
}

// finalize 评分交接和归档，异步且互不阻塞，失败只记日志。
func (s *AttemptService) finalize(attempt *model.ExamAttempt, frozen map[string]interface{}) {
	snapshot := *attempt
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := s.Grader.Grade(ctx, &snapshot, frozen); err != nil {
			s.log.Error("grading handoff failed",
				zap.String("attemptId", snapshot.ID), zap.Error(err))
		}
		if err := s.Archiver.Archive(ctx, &snapshot, frozen); err != nil {
			s.log.Error("submission archive failed",
				zap.String("attemptId", snapshot.ID), zap.Error(err))
		}
	}()
}

func (s *AttemptService) loadProgress(ctx context.Context, attemptID string, stage *model.ExamStage) (StageProgress, error) {
	rec, err := s.Progress.Find(ctx, attemptID, stage.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	progress, err := ParseStageProgress(stage.StageType, rec.Progress)
	if err != nil {
		// 坏记录当缺失处理，门槛判定按"没看过"算
		s.log.Warn("stage progress unreadable",
			zap.String("attemptId", attemptID),
			zap.String("stageId", stage.ID),
			zap.Error(err))
		return nil, nil
	}
	return progress, nil
}
