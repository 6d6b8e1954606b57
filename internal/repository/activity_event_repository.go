package repository

import (
	"context"
	"staged_exam_backend/internal/model"

	"gorm.io/gorm"
)

// ActivityEventRepository 只追加：没有更新、没有删除。
type ActivityEventRepository struct {
	DB *gorm.DB
}

func NewActivityEventRepository(db *gorm.DB) *ActivityEventRepository {
	return &ActivityEventRepository{DB: db}
}

func (r *ActivityEventRepository) Append(ctx context.Context, event *model.ActivityEvent) error {
	return r.DB.WithContext(ctx).Create(event).Error
}

// ListByAttempt 按写入顺序返回整条时间线，供教师端回放。
func (r *ActivityEventRepository) ListByAttempt(ctx context.Context, attemptID string) ([]model.ActivityEvent, error) {
	var events []model.ActivityEvent
	err := r.DB.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("created_at asc").
		Find(&events).Error
	return events, err
}
