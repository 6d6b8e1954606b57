package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"staged_exam_backend/internal/model"

	"gorm.io/datatypes"
)

// StageProgress 各环节进度的密封接口，用 stage_type 做判别标签，
// 三种变体穷举于此，新增环节类型时编译器会把漏掉的 switch 揪出来。
type StageProgress interface {
	StageType() model.StageType
}

type VideoProgress struct {
	WatchPercentage float64      `json:"watch_percentage"`
	TotalWatchTime  int          `json:"total_watch_time"`
	LastPosition    float64      `json:"last_position"`
	WatchedSegments [][2]float64 `json:"watched_segments,omitempty"`
}

func (VideoProgress) StageType() model.StageType { return model.StageVideo }

type ContentProgress struct {
	CurrentSlideIndex int            `json:"current_slide_index"`
	SlideTimes        map[string]int `json:"slide_times"`
}

func (ContentProgress) StageType() model.StageType { return model.StageContent }

type QuestionsProgress struct {
	AnsweredCount int `json:"answered_count"`
	TotalCount    int `json:"total_count"`
}

func (QuestionsProgress) StageType() model.StageType { return model.StageQuestions }

// ParseStageProgress 按环节类型解码进度载荷。
func ParseStageProgress(stageType model.StageType, raw []byte) (StageProgress, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty progress payload")
	}
	switch stageType {
	case model.StageVideo:
		var p VideoProgress
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case model.StageContent:
		var p ContentProgress
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.SlideTimes == nil {
			p.SlideTimes = map[string]int{}
		}
		return p, nil
	case model.StageQuestions:
		var p QuestionsProgress
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown stage type %q", stageType)
	}
}

func MarshalStageProgress(p StageProgress) (datatypes.JSON, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// MergeStageProgress 把新写入合并到已有进度上，幂等且单调：
//   - content：每页累计秒数只增不减（取较大值），页游标取最新；
//   - video：观看百分比和累计时长只增不减，播放位置取最新，片段做并集；
//   - questions：纯信息统计，直接覆盖。
//
// old 为 nil 时（首次写入）直接返回 delta。
func MergeStageProgress(old, delta StageProgress) StageProgress {
	if old == nil {
		return delta
	}

	switch prev := old.(type) {
	case VideoProgress:
		next, ok := delta.(VideoProgress)
		if !ok {
			return old
		}
		if next.WatchPercentage < prev.WatchPercentage {
			next.WatchPercentage = prev.WatchPercentage
		}
		if next.TotalWatchTime < prev.TotalWatchTime {
			next.TotalWatchTime = prev.TotalWatchTime
		}
		next.WatchedSegments = mergeSegments(prev.WatchedSegments, next.WatchedSegments)
		return next

	case ContentProgress:
		next, ok := delta.(ContentProgress)
		if !ok {
			return old
		}
		merged := ContentProgress{
			CurrentSlideIndex: next.CurrentSlideIndex,
			SlideTimes:        make(map[string]int, len(prev.SlideTimes)+len(next.SlideTimes)),
		}
		for id, secs := range prev.SlideTimes {
			merged.SlideTimes[id] = secs
		}
		for id, secs := range next.SlideTimes {
			if secs > merged.SlideTimes[id] {
				merged.SlideTimes[id] = secs
			}
		}
		return merged

	case QuestionsProgress:
		if next, ok := delta.(QuestionsProgress); ok {
			return next
		}
		return old

	default:
		return delta
	}
}

// mergeSegments 区间并集，重叠或相邻的观看片段合并成一段。
func mergeSegments(a, b [][2]float64) [][2]float64 {
	all := make([][2]float64, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	if len(all) == 0 {
		return nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i][0] < all[j][0] })

	merged := [][2]float64{all[0]}
	for _, seg := range all[1:] {
		last := &merged[len(merged)-1]
		if seg[0] <= last[1] {
			if seg[1] > last[1] {
				last[1] = seg[1]
			}
		} else {
			merged = append(merged, seg)
		}
	}
	return merged
}
