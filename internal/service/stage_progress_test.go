package service

import (
	"staged_exam_backend/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStageProgress(t *testing.T) {
	t.Run("dispatches on stage type", func(t *testing.T) {
		p, err := ParseStageProgress(model.StageVideo, []byte(`{"watch_percentage":42.5,"last_position":120}`))
		require.NoError(t, err)
		video, ok := p.(VideoProgress)
		require.True(t, ok)
		assert.Equal(t, 42.5, video.WatchPercentage)

		p, err = ParseStageProgress(model.StageContent, []byte(`{"current_slide_index":1,"slide_times":{"slide-1":12}}`))
		require.NoError(t, err)
		content, ok := p.(ContentProgress)
		require.True(t, ok)
		assert.Equal(t, 12, content.SlideTimes["slide-1"])

		p, err = ParseStageProgress(model.StageQuestions, []byte(`{"answered_count":2,"total_count":3}`))
		require.NoError(t, err)
		questions, ok := p.(QuestionsProgress)
		require.True(t, ok)
		assert.Equal(t, 2, questions.AnsweredCount)
	})

	t.Run("rejects empty and unknown", func(t *testing.T) {
		_, err := ParseStageProgress(model.StageVideo, nil)
		assert.Error(t, err)

		_, err = ParseStageProgress(model.StageType("essay"), []byte(`{}`))
		assert.Error(t, err)
	})

	t.Run("round trip", func(t *testing.T) {
		orig := VideoProgress{WatchPercentage: 87.5, TotalWatchTime: 301, LastPosition: 299.5, WatchedSegments: [][2]float64{{0, 299.5}}}
		raw, err := MarshalStageProgress(orig)
		require.NoError(t, err)
		back, err := ParseStageProgress(model.StageVideo, raw)
		require.NoError(t, err)
		assert.Equal(t, orig, back)
	})
}

func TestMergeStageProgress(t *testing.T) {
	t.Run("first write returns delta", func(t *testing.T) {
		delta := VideoProgress{WatchPercentage: 10}
		assert.Equal(t, delta, MergeStageProgress(nil, delta))
	})

	t.Run("video watch percentage never regresses", func(t *testing.T) {
		old := VideoProgress{WatchPercentage: 70, TotalWatchTime: 200, LastPosition: 180}
		// 考生把进度条拖回去之后的上报
		delta := VideoProgress{WatchPercentage: 40, TotalWatchTime: 150, LastPosition: 30}

		merged := MergeStageProgress(old, delta).(VideoProgress)
		assert.Equal(t, 70.0, merged.WatchPercentage)
		assert.Equal(t, 200, merged.TotalWatchTime)
		// 播放位置取最新，允许回退
		assert.Equal(t, 30.0, merged.LastPosition)
	})

	t.Run("video segments union", func(t *testing.T) {
		old := VideoProgress{WatchedSegments: [][2]float64{{0, 60}, {120, 180}}}
		delta := VideoProgress{WatchedSegments: [][2]float64{{50, 130}}}

		merged := MergeStageProgress(old, delta).(VideoProgress)
		assert.Equal(t, [][2]float64{{0, 180}}, merged.WatchedSegments)
	})

	t.Run("content slide times keep maxima", func(t *testing.T) {
		old := ContentProgress{CurrentSlideIndex: 2, SlideTimes: map[string]int{"slide-1": 30, "slide-2": 10}}
		delta := ContentProgress{CurrentSlideIndex: 1, SlideTimes: map[string]int{"slide-1": 5, "slide-3": 8}}

		merged := MergeStageProgress(old, delta).(ContentProgress)
		assert.Equal(t, 1, merged.CurrentSlideIndex)
		assert.Equal(t, 30, merged.SlideTimes["slide-1"])
		assert.Equal(t, 10, merged.SlideTimes["slide-2"])
		assert.Equal(t, 8, merged.SlideTimes["slide-3"])
	})

	t.Run("questions overwrite", func(t *testing.T) {
		old := QuestionsProgress{AnsweredCount: 1, TotalCount: 3}
		delta := QuestionsProgress{AnsweredCount: 3, TotalCount: 3}
		assert.Equal(t, delta, MergeStageProgress(old, delta))
	})

	t.Run("merge is idempotent", func(t *testing.T) {
		old := ContentProgress{CurrentSlideIndex: 1, SlideTimes: map[string]int{"slide-1": 30}}
		once := MergeStageProgress(old, old)
		twice := MergeStageProgress(once, old)
		assert.Equal(t, once, twice)
	})
}
