package service

import (
	"staged_exam_backend/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanAdvanceVideo(t *testing.T) {
	threshold := 80.0
	stage := &model.ExamStage{
		UUIDBase:             model.UUIDBase{ID: "stage-video"},
		StageType:            model.StageVideo,
		EnforcementThreshold: &threshold,
	}

	t.Run("below threshold blocks with structured violation", func(t *testing.T) {
		ok, v := CanAdvance(stage, VideoProgress{WatchPercentage: 50})
		assert.False(t, ok)
		require.NotNil(t, v)
		assert.Equal(t, "stage-video", v.StageID)
		assert.Equal(t, RequirementVideoWatch, v.RequirementType)
		assert.Equal(t, 50.0, v.CurrentValue)
		assert.Equal(t, 80.0, v.RequiredValue)
	})

	t.Run("at threshold passes", func(t *testing.T) {
		ok, v := CanAdvance(stage, VideoProgress{WatchPercentage: 80})
		assert.True(t, ok)
		assert.Nil(t, v)
	})

	t.Run("missing progress counts as zero", func(t *testing.T) {
		ok, v := CanAdvance(stage, nil)
		assert.False(t, ok)
		require.NotNil(t, v)
		assert.Equal(t, 0.0, v.CurrentValue)
	})

	t.Run("no threshold means unconditional pass", func(t *testing.T) {
		free := &model.ExamStage{StageType: model.StageVideo}
		ok, v := CanAdvance(free, nil)
		assert.True(t, ok)
		assert.Nil(t, v)

		zero := 0.0
		free.EnforcementThreshold = &zero
		ok, _ = CanAdvance(free, nil)
		assert.True(t, ok)
	})
}

func TestCanAdvanceContent(t *testing.T) {
	readTime := 30
	stage := &model.ExamStage{
		UUIDBase:        model.UUIDBase{ID: "stage-content"},
		StageType:       model.StageContent,
		MinimumReadTime: &readTime,
	}

	t.Run("accumulated time across slides", func(t *testing.T) {
		ok, v := CanAdvance(stage, ContentProgress{SlideTimes: map[string]int{"slide-1": 10, "slide-2": 12}})
		assert.False(t, ok)
		require.NotNil(t, v)
		assert.Equal(t, RequirementContentRead, v.RequirementType)
		assert.Equal(t, 22.0, v.CurrentValue)

		ok, _ = CanAdvance(stage, ContentProgress{SlideTimes: map[string]int{"slide-1": 18, "slide-2": 12}})
		assert.True(t, ok)
	})

	t.Run("no minimum means unconditional pass", func(t *testing.T) {
		free := &model.ExamStage{StageType: model.StageContent}
		ok, v := CanAdvance(free, nil)
		assert.True(t, ok)
		assert.Nil(t, v)
	})
}

func TestCanAdvanceQuestions(t *testing.T) {
	stage := &model.ExamStage{StageType: model.StageQuestions}

	// 题目环节没有门槛：没答、答一半都可以走
	ok, v := CanAdvance(stage, nil)
	assert.True(t, ok)
	assert.Nil(t, v)

	ok, _ = CanAdvance(stage, QuestionsProgress{AnsweredCount: 1, TotalCount: 3})
	assert.True(t, ok)
}
