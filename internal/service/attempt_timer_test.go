package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() TimerPolicy {
	return TimerPolicyFromConfig(testAttemptConfig())
}

func TestComputeDeadline(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	policy := testPolicy()

	t.Run("duration only", func(t *testing.T) {
		d := 60
		deadline, reasons := computeDeadline(now, now, &d, nil, policy)
		require.Empty(t, reasons)
		require.NotNil(t, deadline)
		assert.Equal(t, now.Add(60*time.Minute), *deadline)
	})

	t.Run("earliest candidate wins", func(t *testing.T) {
		d := 60
		end := now.Add(30 * time.Minute)
		deadline, reasons := computeDeadline(now, now, &d, &end, policy)
		require.Empty(t, reasons)
		require.NotNil(t, deadline)
		assert.Equal(t, end, *deadline)

		farEnd := now.Add(3 * time.Hour)
		deadline, _ = computeDeadline(now, now, &d, &farEnd, policy)
		require.NotNil(t, deadline)
		assert.Equal(t, now.Add(60*time.Minute), *deadline)
	})

	t.Run("no candidates means no time limit", func(t *testing.T) {
		deadline, reasons := computeDeadline(now, now, nil, nil, policy)
		assert.Nil(t, deadline)
		assert.Empty(t, reasons)
	})

	t.Run("zero duration is not a candidate", func(t *testing.T) {
		d := 0
		deadline, reasons := computeDeadline(now, now, &d, nil, policy)
		assert.Nil(t, deadline)
		assert.Empty(t, reasons)
	})

	t.Run("invalid inputs degrade to no time limit", func(t *testing.T) {
		d := 60

		deadline, reasons := computeDeadline(now, time.Time{}, &d, nil, policy)
		assert.Nil(t, deadline)
		assert.NotEmpty(t, reasons)

		neg := -5
		deadline, reasons = computeDeadline(now, now, &neg, nil, policy)
		assert.Nil(t, deadline)
		assert.NotEmpty(t, reasons)

		huge := 100000
		deadline, reasons = computeDeadline(now, now, &huge, nil, policy)
		assert.Nil(t, deadline)
		assert.NotEmpty(t, reasons)

		future := now.Add(10 * time.Minute)
		deadline, reasons = computeDeadline(now, future, &d, nil, policy)
		assert.Nil(t, deadline)
		assert.NotEmpty(t, reasons)

		ancient := now.Add(-400 * 24 * time.Hour)
		deadline, reasons = computeDeadline(now, ancient, &d, nil, policy)
		assert.Nil(t, deadline)
		assert.NotEmpty(t, reasons)

		endBeforeStart := now.Add(-time.Minute)
		deadline, reasons = computeDeadline(now, now, &d, &endBeforeStart, policy)
		assert.Nil(t, deadline)
		assert.NotEmpty(t, reasons)
	})
}

func TestRemainingMonotonic(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	d := 60
	timer := NewAttemptTimer(start, start, &d, nil, testPolicy(), nil)
	require.True(t, timer.HasDeadline())

	prev := time.Duration(1<<62 - 1)
	for elapsed := time.Duration(0); elapsed <= 61*time.Minute; elapsed += 7 * time.Second {
		rem, ok := timer.Remaining(start.Add(elapsed))
		require.True(t, ok)
		assert.LessOrEqual(t, rem, prev, "remaining must never increase")
		assert.GreaterOrEqual(t, rem, time.Duration(0))
		prev = rem
	}

	rem, ok := timer.Remaining(start.Add(2 * time.Hour))
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), rem)
}

func TestShouldExpire(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	policy := testPolicy()

	t.Run("no deadline never expires", func(t *testing.T) {
		timer := NewAttemptTimer(start, start, nil, nil, policy, nil)
		assert.False(t, timer.ShouldExpire(start.Add(100*time.Hour)))
	})

	t.Run("expires once past deadline plus grace", func(t *testing.T) {
		d := 10
		timer := NewAttemptTimer(start, start, &d, nil, policy, nil)

		assert.False(t, timer.ShouldExpire(start.Add(9*time.Minute)))
		// 已过截止但还在宽限期内
		assert.False(t, timer.ShouldExpire(start.Add(10*time.Minute+2*time.Second)))

		at := start.Add(10*time.Minute + 6*time.Second)
		assert.True(t, timer.ShouldExpire(at))
		// 一次性闩锁
		assert.False(t, timer.ShouldExpire(at.Add(time.Minute)))
	})

	t.Run("floor guard blocks early expiry", func(t *testing.T) {
		// 时长 10 分钟，但硬截止在开考 4 分钟后：
		// 已消耗 4 分钟 < 时长的 50%，保守起见不自动交卷
		d := 10
		end := start.Add(4 * time.Minute)
		timer := NewAttemptTimer(start, start, &d, &end, policy, nil)
		require.True(t, timer.HasDeadline())

		assert.False(t, timer.ShouldExpire(start.Add(4*time.Minute+10*time.Second)))
		// 过了下限比例之后才放行
		assert.True(t, timer.ShouldExpire(start.Add(5*time.Minute+10*time.Second)))
	})

	t.Run("fallback min runtime when duration unset", func(t *testing.T) {
		end := start.Add(10 * time.Second)
		timer := NewAttemptTimer(start, start, nil, &end, policy, nil)
		require.True(t, timer.HasDeadline())

		assert.False(t, timer.ShouldExpire(start.Add(30*time.Second)))
		assert.True(t, timer.ShouldExpire(start.Add(61*time.Second)))
	})
}

func TestPendingWarnings(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	d := 90
	timer := NewAttemptTimer(start, start, &d, nil, testPolicy(), nil)

	t.Run("thresholds fire once when crossed", func(t *testing.T) {
		assert.Empty(t, timer.PendingWarnings(start.Add(20*time.Minute)))

		crossed := timer.PendingWarnings(start.Add(31 * time.Minute))
		assert.Equal(t, []int{60}, crossed)
		assert.Empty(t, timer.PendingWarnings(start.Add(32*time.Minute)))

		crossed = timer.PendingWarnings(start.Add(76 * time.Minute))
		assert.Equal(t, []int{30, 15}, crossed)
	})

	t.Run("one direction only", func(t *testing.T) {
		// 时间回拨后剩余时间"回涨"，已触发的阈值不得重复触发
		crossed := timer.PendingWarnings(start.Add(40 * time.Minute))
		assert.Empty(t, crossed)
		assert.ElementsMatch(t, []int{60, 30, 15}, timer.NotifiedWarnings())
	})

	t.Run("silent at zero remaining", func(t *testing.T) {
		assert.Empty(t, timer.PendingWarnings(start.Add(2*time.Hour)))
	})
}
