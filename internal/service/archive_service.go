package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"staged_exam_backend/internal/config"
	"staged_exam_backend/internal/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageProvider 定义通用存储接口
type StorageProvider interface {
	Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error)
	GetURL(filename string) string
}

// LocalStorageProvider 本地存储实现
type LocalStorageProvider struct {
	Config *config.StorageConfig
}

func (p *LocalStorageProvider) Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	dst := filepath.Join(p.Config.LocalPath, filename)
	dir := filepath.Dir(dst)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	_, err = io.Copy(out, reader)
	if err != nil {
		return "", err
	}

	return p.GetURL(filename), nil
}

func (p *LocalStorageProvider) GetURL(filename string) string {
	return "/archives/" + filename
}

// MinioStorageProvider MinIO存储实现
type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

func (p *MinioStorageProvider) Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, filename, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.GetURL(filename), nil
}

func (p *MinioStorageProvider) GetURL(filename string) string {
	return "/" + p.Config.MinioBucket + "/" + filename
}

// ArchiveService 提交后把冻结的答案快照归档，用于审计和纠纷回溯。
// 归档失败不影响提交本身。
type ArchiveService struct {
	Provider StorageProvider
	log      *zap.Logger
}

func NewArchiveService(cfg *config.Config, log *zap.Logger) *ArchiveService {
	var provider StorageProvider
	if cfg.Storage.Type == "minio" {
		p, err := NewMinioStorageProvider(&cfg.Storage)
		if err == nil {
			provider = p
		} else {
			log.Warn("minio unavailable, archiving to local storage", zap.Error(err))
		}
	}

	if provider == nil {
		provider = &LocalStorageProvider{Config: &cfg.Storage}
	}

	return &ArchiveService{Provider: provider, log: log}
}

func (s *ArchiveService) Archive(ctx context.Context, attempt *model.ExamAttempt, answers map[string]interface{}) error {
	snapshot := map[string]interface{}{
		"attempt_id":        attempt.ID,
		"exam_id":           attempt.ExamID,
		"student_id":        attempt.StudentID,
		"completion_status": attempt.CompletionStatus,
		"submitted_at":      attempt.SubmittedAt,
		"version":           attempt.Version,
		"answers":           answers,
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("attempts/%s/answers.json", attempt.ID)
	_, err = s.Provider.Upload(ctx, filename, bytes.NewReader(raw), int64(len(raw)), "application/json")
	return err
}
