package database

import (
	"encoding/json"
	"fmt"
	"log"
	"staged_exam_backend/internal/config"
	"staged_exam_backend/internal/model"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
		// 把驱动的重复键错误翻译成 gorm.ErrDuplicatedKey，仓储层依赖它
		TranslateError: true,
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	err = db.AutoMigrate(
		&model.User{},
		&model.Exam{},
		&model.ExamStage{},
		&model.ExamAttempt{},
		&model.StageProgressRecord{},
		&model.ActivityEvent{},
	)

	if err != nil {
		return nil, err
	}

	log.Println("Database migration completed")

	seedDemoExam(db)

	return db, nil
}

// seedDemoExam 空库时插入一份演示考试，便于前端联调。
func seedDemoExam(db *gorm.DB) {
	var count int64
	db.Model(&model.Exam{}).Count(&count)
	if count > 0 {
		return
	}

	duration := 60
	endTime := time.Now().AddDate(0, 6, 0)
	exam := &model.Exam{
		Title:           "C语言入门综合测评",
		Description:     "视频讲解 + 图文阅读 + 随堂测验",
		DurationMinutes: &duration,
		EndTime:         &endTime,
		IsPublished:     true,
	}
	if err := db.Create(exam).Error; err != nil {
		log.Printf("seed demo exam failed: %v", err)
		return
	}

	threshold := 80.0
	readTime := 30
	slides, _ := json.Marshal([]map[string]interface{}{
		{"id": "slide-1", "order": 1, "title": "指针与地址"},
		{"id": "slide-2", "order": 2, "title": "指针运算"},
		{"id": "slide-3", "order": 3, "title": "常见错误"},
	})
	questionIDs, _ := json.Marshal([]string{"q-1", "q-2", "q-3"})

	stages := []model.ExamStage{
		{
			ExamID:               exam.ID,
			StageType:            model.StageVideo,
			StageOrder:           1,
			Title:                "讲解视频",
			VideoURL:             "/videos/c-pointers.mp4",
			EnforcementThreshold: &threshold,
		},
		{
			ExamID:          exam.ID,
			StageType:       model.StageContent,
			StageOrder:      2,
			Title:           "图文精讲",
			Slides:          slides,
			MinimumReadTime: &readTime,
		},
		{
			ExamID:      exam.ID,
			StageType:   model.StageQuestions,
			StageOrder:  3,
			Title:       "随堂测验",
			QuestionIDs: questionIDs,
		},
	}
	for i := range stages {
		if err := db.Create(&stages[i]).Error; err != nil {
			log.Printf("seed demo stage failed: %v", err)
		}
	}
}
