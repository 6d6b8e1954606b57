package service

import (
	"context"
	"encoding/json"
	"staged_exam_backend/internal/model"
	"staged_exam_backend/internal/repository"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const stageCacheKeyPrefix = "exam_stages:"

// StageRegistryService 环节定义注册表：考试结构基本只读，
// 用 Redis 做读穿缓存（方便多实例共享），未命中回源数据库。
type StageRegistryService struct {
	Repo     *repository.ExamRepository
	Redis    *redis.Client
	CacheTTL time.Duration
	log      *zap.Logger
}

func NewStageRegistryService(repo *repository.ExamRepository, rdb *redis.Client, cacheTTL time.Duration, log *zap.Logger) *StageRegistryService {
	return &StageRegistryService{
		Repo:     repo,
		Redis:    rdb,
		CacheTTL: cacheTTL,
		log:      log,
	}
}

// GetExam 返回考试及按 stage_order 升序排好的环节。
func (s *StageRegistryService) GetExam(ctx context.Context, examID string) (*model.Exam, error) {
	cacheKey := stageCacheKeyPrefix + examID

	if s.Redis != nil {
		if val, err := s.Redis.Get(ctx, cacheKey).Result(); err == nil {
			var exam model.Exam
			if err := json.Unmarshal([]byte(val), &exam); err == nil {
				return &exam, nil
			}
			// 缓存内容损坏就当未命中，回源后覆盖
			s.Redis.Del(ctx, cacheKey)
		}
	}

	exam, err := s.Repo.FindByIDWithStages(examID)
	if err != nil {
		return nil, err
	}

	if s.Redis != nil {
		if raw, err := json.Marshal(exam); err == nil {
			if err := s.Redis.Set(ctx, cacheKey, raw, s.CacheTTL).Err(); err != nil {
				s.log.Warn("stage registry cache write failed", zap.Error(err))
			}
		}
	}

	return exam, nil
}

// ListPublished 学生可见的考试列表。
func (s *StageRegistryService) ListPublished(page, limit int) ([]model.Exam, int64, error) {
	return s.Repo.ListPublished(page, limit)
}

// QuestionIDSet 汇总一场考试所有题目环节的题目 ID，用于校验答案键。
func QuestionIDSet(exam *model.Exam) map[string]bool {
	set := map[string]bool{}
	for _, stage := range exam.Stages {
		if stage.StageType != model.StageQuestions || len(stage.QuestionIDs) == 0 {
			continue
		}
		var ids []string
		if err := json.Unmarshal(stage.QuestionIDs, &ids); err != nil {
			continue
		}
		for _, id := range ids {
			set[id] = true
		}
	}
	return set
}
