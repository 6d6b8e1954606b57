package repository

import (
	"context"
	"errors"
	"staged_exam_backend/internal/model"
	"staged_exam_backend/internal/util"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

// Create 进行中的作答带上 active token，撞上唯一索引说明并发的开始请求
// 已经赢了，翻译成 ErrAttemptExists 让调用方改走复用路径。
func (r *AttemptRepository) Create(ctx context.Context, attempt *model.ExamAttempt) error {
	if attempt.CompletionStatus == model.AttemptInProgress && attempt.ActiveToken == nil {
		token := model.AttemptActiveToken(attempt.ExamID, attempt.StudentID)
		attempt.ActiveToken = &token
	}
	err := r.DB.WithContext(ctx).Create(attempt).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return util.ErrAttemptExists
	}
	return err
}

func (r *AttemptRepository) FindByID(ctx context.Context, id string) (*model.ExamAttempt, error) {
	var attempt model.ExamAttempt
	err := r.DB.WithContext(ctx).First(&attempt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindActive 同一 (exam, student) 至多一条未到终态的作答，没有返回 nil, nil。
func (r *AttemptRepository) FindActive(ctx context.Context, examID string, studentID uint) (*model.ExamAttempt, error) {
	var attempt model.ExamAttempt
	err := r.DB.WithContext(ctx).
		Where("exam_id = ? AND student_id = ? AND completion_status = ?", examID, studentID, model.AttemptInProgress).
		Order("started_at desc").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// CompareAndSwapAnswers 版本匹配才写，WHERE 带版本号让数据库做原子裁决。
// RowsAffected 为 0 即输掉竞争或作答已不存在，统一按版本冲突返回。
func (r *AttemptRepository) CompareAndSwapAnswers(ctx context.Context, id string, answers datatypes.JSON, expectedVersion int64) error {
	res := r.DB.WithContext(ctx).Model(&model.ExamAttempt{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"answers": answers,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrVersionConflict
	}
	return nil
}

func (r *AttemptRepository) UpdateStageCursor(ctx context.Context, id string, cursor int) error {
	return r.DB.WithContext(ctx).Model(&model.ExamAttempt{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_stage_index": cursor,
			"version":             gorm.Expr("version + 1"),
		}).Error
}

// SetCompletionStatus 终态只能从 in_progress 翻转一次，WHERE 带状态条件
// 让数据库裁决并发的提交/放弃/过期；输家拿到 ErrAttemptTerminal。
// 同时清掉 active token，释放 (exam, student) 的进行中名额。
func (r *AttemptRepository) SetCompletionStatus(ctx context.Context, id string, status model.CompletionStatus, submittedAt *time.Time) error {
	res := r.DB.WithContext(ctx).Model(&model.ExamAttempt{}).
		Where("id = ? AND completion_status = ?", id, model.AttemptInProgress).
		Updates(map[string]interface{}{
			"completion_status": status,
			"submitted_at":      submittedAt,
			"active_token":      nil,
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrAttemptTerminal
	}
	return nil
}

func (r *AttemptRepository) ListByExam(ctx context.Context, examID string, page, limit int) ([]model.ExamAttempt, int64, error) {
	var total int64
	query := r.DB.WithContext(ctx).Model(&model.ExamAttempt{}).Where("exam_id = ?", examID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var attempts []model.ExamAttempt
	dbQuery := r.DB.WithContext(ctx).Where("exam_id = ?", examID)
	if limit > 0 {
		offset := (page - 1) * limit
		dbQuery = dbQuery.Offset(offset).Limit(limit)
	}
	err := dbQuery.Order("started_at desc").Find(&attempts).Error
	return attempts, total, err
}
