package service

import (
	"sort"
	"staged_exam_backend/internal/config"
	"time"

	"go.uber.org/zap"
)

// TimerPolicy 截止/过期判定的全部可调参数。
// ExpiryFloorPercent 是策略值：自动交卷前必须至少消耗掉这一比例的时长，
// 防止坏时间戳导致刚开考就被判过期。
type TimerPolicy struct {
	GracePeriod        time.Duration
	ExpiryFloorPercent int
	FallbackMinRuntime time.Duration
	WarningThresholds  []int // 分钟，单向触发
	MaxDurationMinutes int
	MaxDeadlineHorizon time.Duration
	MaxStartedAge      time.Duration
	ClockSkewTolerance time.Duration
}

func TimerPolicyFromConfig(cfg config.AttemptConfig) TimerPolicy {
	thresholds := make([]int, len(cfg.WarningThresholdsMinutes))
	copy(thresholds, cfg.WarningThresholdsMinutes)
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))

	return TimerPolicy{
		GracePeriod:        time.Duration(cfg.GracePeriodSeconds) * time.Second,
		ExpiryFloorPercent: cfg.ExpiryFloorPercent,
		FallbackMinRuntime: time.Duration(cfg.FallbackMinRuntimeSecs) * time.Second,
		WarningThresholds:  thresholds,
		MaxDurationMinutes: cfg.MaxDurationMinutes,
		MaxDeadlineHorizon: time.Duration(cfg.MaxDeadlineHorizonHours) * time.Hour,
		MaxStartedAge:      time.Duration(cfg.MaxStartedAgeDays) * 24 * time.Hour,
		ClockSkewTolerance: time.Duration(cfg.ClockSkewToleranceSecs) * time.Second,
	}
}

// AttemptTimer 为一次作答维护唯一可信的截止时间和保守的过期信号。
// 实例归属于单个 AttemptSession，锁由会话持有，这里不做并发保护。
type AttemptTimer struct {
	startedAt   time.Time
	durationMin int // 0 表示未配置时长
	deadline    *time.Time
	policy      TimerPolicy

	expired  bool         // 一次性闩锁：报过一次 true 之后永远沉默
	notified map[int]bool // 已触发过的预警阈值
}

// NewAttemptTimer 构建计时器并执行校验流水线。任何非法输入都不报错，
// 只是降级为"无时限"（deadline 为 nil），原因写入日志供运维排查。
func NewAttemptTimer(now, startedAt time.Time, durationMinutes *int, examEndTime *time.Time, policy TimerPolicy, log *zap.Logger) *AttemptTimer {
	t := &AttemptTimer{
		startedAt: startedAt,
		policy:    policy,
		notified:  make(map[int]bool),
	}
	if durationMinutes != nil {
		t.durationMin = *durationMinutes
	}

	deadline, reasons := computeDeadline(now, startedAt, durationMinutes, examEndTime, policy)
	t.deadline = deadline

	if len(reasons) > 0 && log != nil {
		log.Warn("attempt timer disabled, degrading to no time limit",
			zap.Time("startedAt", startedAt),
			zap.Strings("reasons", reasons))
	}
	return t
}

// computeDeadline 候选截止时间取 startedAt+duration 与 exam 硬截止的较小者。
// 返回 nil 的两种情况：没有任何候选（真的没有时限），或输入未通过校验。
// 两者对调用方等价：没有截止时间就没有过期、没有预警。
func computeDeadline(now, startedAt time.Time, durationMinutes *int, examEndTime *time.Time, policy TimerPolicy) (*time.Time, []string) {
	var reasons []string

	if startedAt.IsZero() {
		reasons = append(reasons, "started_at missing or unparseable")
		return nil, reasons
	}
	if startedAt.Before(now.Add(-policy.MaxStartedAge)) {
		reasons = append(reasons, "started_at too far in the past")
	}
	if startedAt.After(now.Add(policy.ClockSkewTolerance)) {
		reasons = append(reasons, "started_at in the future beyond skew tolerance")
	}
	if durationMinutes != nil {
		if *durationMinutes < 0 {
			reasons = append(reasons, "negative duration")
		}
		if *durationMinutes > policy.MaxDurationMinutes {
			reasons = append(reasons, "duration exceeds maximum")
		}
	}
	if examEndTime != nil && examEndTime.Before(startedAt) {
		reasons = append(reasons, "exam end time predates started_at")
	}

	var candidates []time.Time
	if durationMinutes != nil && *durationMinutes > 0 {
		d := startedAt.Add(time.Duration(*durationMinutes) * time.Minute)
		if d.After(now.Add(policy.MaxDeadlineHorizon)) {
			reasons = append(reasons, "duration deadline beyond horizon")
		}
		candidates = append(candidates, d)
	}
	if examEndTime != nil {
		candidates = append(candidates, *examEndTime)
	}

	if len(reasons) > 0 || len(candidates) == 0 {
		return nil, reasons
	}

	deadline := candidates[0]
	for _, c := range candidates[1:] {
		if c.Before(deadline) {
			deadline = c
		}
	}
	return &deadline, nil
}

// HasDeadline 计时器是否有效。无效即无时限作答。
func (t *AttemptTimer) HasDeadline() bool {
	return t.deadline != nil
}

func (t *AttemptTimer) Deadline() *time.Time {
	return t.deadline
}

// Remaining 纯粹由绝对时间算出，ok 为 false 表示没有时限。
func (t *AttemptTimer) Remaining(now time.Time) (time.Duration, bool) {
	if t.deadline == nil {
		return 0, false
	}
	rem := t.deadline.Sub(now)
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

// ShouldExpire 三重独立防线全部成立才报过期，并且一次性：
//  1. 已消耗时长达到配置时长的下限比例（未配置时长则至少跑满兜底时长），
//     防止坏/漂移时间戳误杀考生；
//  2. 当前时刻已越过截止时间加宽限期，吸收边界竞态；
//  3. Remaining 恰好为零。
func (t *AttemptTimer) ShouldExpire(now time.Time) bool {
	if t.expired || t.deadline == nil {
		return false
	}

	elapsed := now.Sub(t.startedAt)
	if t.durationMin > 0 {
		floor := time.Duration(t.durationMin) * time.Minute * time.Duration(t.policy.ExpiryFloorPercent) / 100
		if elapsed < floor {
			return false
		}
	} else if elapsed < t.policy.FallbackMinRuntime {
		return false
	}

	if now.Before(t.deadline.Add(t.policy.GracePeriod)) {
		return false
	}

	if rem, ok := t.Remaining(now); !ok || rem != 0 {
		return false
	}

	t.expired = true
	return true
}

// PendingWarnings 返回本次新越过的预警阈值（分钟），每个阈值只触发一次，
// 只朝一个方向：越过后即便剩余时间回涨也不再触发。
func (t *AttemptTimer) PendingWarnings(now time.Time) []int {
	rem, ok := t.Remaining(now)
	if !ok || rem <= 0 {
		return nil
	}

	var crossed []int
	for _, m := range t.policy.WarningThresholds {
		if t.notified[m] {
			continue
		}
		if rem <= time.Duration(m)*time.Minute {
			t.notified[m] = true
			crossed = append(crossed, m)
		}
	}
	return crossed
}

// NotifiedWarnings 已触发过的阈值，供查询接口回放。
func (t *AttemptTimer) NotifiedWarnings() []int {
	out := make([]int, 0, len(t.notified))
	for _, m := range t.policy.WarningThresholds {
		if t.notified[m] {
			out = append(out, m)
		}
	}
	return out
}
