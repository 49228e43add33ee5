// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"time"

	"talanoor-go/internal/config"
	"talanoor-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// GetPresignedURL generates a presigned URL for a given object.
func GetPresignedURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := MinioClient.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}

// TranscriptStore 把对话记录导出到对象存储并返回限时下载链接。
type TranscriptStore struct {
	Bucket string
	Expiry time.Duration
}

// NewTranscriptStore 根据 MinIO 配置创建 TranscriptStore。
func NewTranscriptStore(cfg config.MinIOConfig) *TranscriptStore {
	return &TranscriptStore{Bucket: cfg.BucketName, Expiry: cfg.PresignExpiry}
}

// PutTranscript 上传一份对话记录，返回预签名的下载地址。
func (s *TranscriptStore) PutTranscript(ctx context.Context, objectName string, body []byte, contentType string) (string, error) {
	_, err := MinioClient.PutObject(ctx, s.Bucket, objectName, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		log.Errorf("上传对话记录到 MinIO 失败, object: %s, error: %v", objectName, err)
		return "", err
	}
	return GetPresignedURL(ctx, s.Bucket, objectName, s.Expiry)
}
