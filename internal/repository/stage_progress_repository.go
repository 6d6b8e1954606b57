package repository

import (
	"context"
	"errors"
	"staged_exam_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StageProgressRepository struct {
	DB *gorm.DB
}

func NewStageProgressRepository(db *gorm.DB) *StageProgressRepository {
	return &StageProgressRepository{DB: db}
}

// Find 未写入过时返回 nil, nil，调用方据此区分首次上报。
func (r *StageProgressRepository) Find(ctx context.Context, attemptID, stageID string) (*model.StageProgressRecord, error) {
	var rec model.StageProgressRecord
	err := r.DB.WithContext(ctx).
		Where("attempt_id = ? AND stage_id = ?", attemptID, stageID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert 以 (attempt_id, stage_id) 为键，存在则覆盖 progress。
func (r *StageProgressRepository) Upsert(ctx context.Context, rec *model.StageProgressRecord) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "stage_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"progress", "updated_at"}),
	}).Create(rec).Error
}

func (r *StageProgressRepository) ListByAttempt(ctx context.Context, attemptID string) ([]model.StageProgressRecord, error) {
	var recs []model.StageProgressRecord
	err := r.DB.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Find(&recs).Error
	return recs, err
}
