package repository

import (
	"errors"
	"staged_exam_backend/internal/model"
	"staged_exam_backend/internal/util"

	"gorm.io/gorm"
)

type ExamRepository struct {
	DB *gorm.DB
}

func NewExamRepository(db *gorm.DB) *ExamRepository {
	return &ExamRepository{DB: db}
}

func (r *ExamRepository) Create(exam *model.Exam) error {
	return r.DB.Create(exam).Error
}

// FindByIDWithStages 环节按 stage_order 升序预加载，调用方可直接按下标推进。
func (r *ExamRepository) FindByIDWithStages(id string) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.Preload("Stages", func(db *gorm.DB) *gorm.DB {
		return db.Order("stage_order ASC")
	}).First(&exam, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrExamNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exam, nil
}

func (r *ExamRepository) ListPublished(page, limit int) ([]model.Exam, int64, error) {
	var total int64
	query := r.DB.Model(&model.Exam{}).Where("is_published = ?", true)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var exams []model.Exam
	dbQuery := r.DB.Where("is_published = ?", true)
	if limit > 0 {
		offset := (page - 1) * limit
		dbQuery = dbQuery.Offset(offset).Limit(limit)
	}
	err := dbQuery.Order("created_at desc").Find(&exams).Error
	return exams, total, err
}

func (r *ExamRepository) Update(exam *model.Exam) error {
	return r.DB.Save(exam).Error
}
