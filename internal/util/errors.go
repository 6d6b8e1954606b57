package util

import "errors"

var (
	ErrUserNotFound    = errors.New("用户不存在")
	ErrEmailRegistered = errors.New("该邮箱已被注册")
	ErrInvalidPassword = errors.New("密码错误")

	ErrExamNotFound     = errors.New("exam not found")
	ErrExamNotPublished = errors.New("exam not published or not accessible")
	ErrStageNotFound    = errors.New("stage not found")
	ErrAttemptNotFound  = errors.New("attempt not found")

	// ErrAttemptExists 同一 (exam, student) 已有进行中的作答，
	// 并发开考时由唯一索引裁决，输家据此改走复用路径。
	ErrAttemptExists = errors.New("an in-progress attempt already exists")

	// ErrVersionConflict 保存答案时 expected_version 与当前版本不一致，可重试：
	// 调用方需重新拉取最新状态后再提交，失败的写入不产生任何变更。
	ErrVersionConflict = errors.New("attempt version conflict")

	// ErrAttemptTerminal 对已提交/已放弃/已过期的作答做修改，不可重试。
	ErrAttemptTerminal = errors.New("attempt already finalized")

	// ErrIllegalTransition 非法状态流转，如越过最后一个环节继续推进。
	ErrIllegalTransition = errors.New("illegal attempt state transition")

	ErrUnknownQuestion = errors.New("answer references a question outside this exam")
)
