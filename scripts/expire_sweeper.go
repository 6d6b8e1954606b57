// 手动触发过期作答清扫脚本
//
// 服务在线时由各作答会话的计时循环负责过期；但服务停机期间越过截止时间
// 的作答会一直停在 in_progress。该脚本把这类作答补结为 expired。
// 适合在长时间停机恢复后执行一次。
//
// 用法: go run scripts/expire_sweeper.go

package main

import (
	"context"
	"errors"
	"log"
	"staged_exam_backend/internal/config"
	"staged_exam_backend/internal/model"
	"staged_exam_backend/internal/repository"
	"staged_exam_backend/internal/service"
	"staged_exam_backend/internal/util"
	"staged_exam_backend/pkg/database"
	"staged_exam_backend/pkg/logger"
	"time"

	"gorm.io/datatypes"
)

func main() {
	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	ctx := context.Background()
	attempts := repository.NewAttemptRepository(db)
	exams := repository.NewExamRepository(db)
	events := repository.NewActivityEventRepository(db)

	policy := service.TimerPolicyFromConfig(cfg.Attempt)
	now := time.Now()

	var stale []model.ExamAttempt
	if err := db.Where("completion_status = ?", model.AttemptInProgress).Find(&stale).Error; err != nil {
		log.Fatalf("查询进行中作答失败: %v", err)
	}

	examCache := map[string]*model.Exam{}
	swept := 0
	for i := range stale {
		attempt := &stale[i]

		exam, ok := examCache[attempt.ExamID]
		if !ok {
			exam, err = exams.FindByIDWithStages(attempt.ExamID)
			if err != nil {
				log.Printf("作答 %s 的考试 %s 读取失败，跳过: %v", attempt.ID, attempt.ExamID, err)
				continue
			}
			examCache[attempt.ExamID] = exam
		}

		timer := service.NewAttemptTimer(now, attempt.StartedAt, exam.DurationMinutes, exam.EndTime, policy, logger.Log)
		if !timer.ShouldExpire(now) {
			continue
		}

		expiredAt := now
		if timer.Deadline() != nil {
			expiredAt = *timer.Deadline()
		}
		if err := attempts.SetCompletionStatus(ctx, attempt.ID, model.AttemptExpired, &expiredAt); err != nil {
			// 查询之后别的写入者先把它结了，不算失败
			if errors.Is(err, util.ErrAttemptTerminal) {
				continue
			}
			log.Printf("作答 %s 置为过期失败: %v", attempt.ID, err)
			continue
		}

		if err := events.Append(ctx, &model.ActivityEvent{
			AttemptID: attempt.ID,
			EventType: model.EventAttemptExpired,
			Payload:   datatypes.JSON(`{"source":"sweeper"}`),
			CreatedAt: now,
		}); err != nil {
			log.Printf("作答 %s 的过期事件写入失败: %v", attempt.ID, err)
		}
		swept++
	}

	log.Printf("清扫完成: 共检查 %d 条进行中作答, 补结 %d 条", len(stale), swept)
}
