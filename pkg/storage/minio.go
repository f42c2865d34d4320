// Package storage 提供了与对象存储服务（MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"insight-vault-go/internal/config"
	"insight-vault-go/pkg/log"
)

// ObjectStore 定义了管道所需的对象存储操作。
// 管道只关心按 bucket+path 读写字节，其余都是具体实现的事。
type ObjectStore interface {
	DownloadBytes(ctx context.Context, bucket, objectName string) ([]byte, error)
	UploadBytes(ctx context.Context, bucket, objectName string, data []byte, contentType string) error
	PresignedGetURL(ctx context.Context, bucket, objectName string, expiry time.Duration) (string, error)
}

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保配置的存储桶存在。
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

	// 原始文件桶与纯文本产物桶分开管理
	for _, bucket := range []string{cfg.RawBucket, cfg.TextBucket} {
		ensureBucket(bucket)
	}
}

// ensureBucket 检查存储桶是否存在，如果不存在则创建。
func ensureBucket(bucketName string) {
	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// minioStore 是 ObjectStore 基于全局 MinIO 客户端的实现。
type minioStore struct{}

// NewObjectStore 返回基于 MinIO 的 ObjectStore 实现。
// 必须先调用 InitMinIO。
func NewObjectStore() ObjectStore {
	return &minioStore{}
}

// DownloadBytes 将对象完整读入内存并返回。
func (s *minioStore) DownloadBytes(ctx context.Context, bucket, objectName string) ([]byte, error) {
	object, err := MinioClient.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载对象失败 (%s/%s): %w", bucket, objectName, err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(object); err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象流失败 (%s/%s): %w", bucket, objectName, err)
	}
	return buf.Bytes(), nil
}

// UploadBytes 将字节内容写入指定对象。
func (s *minioStore) UploadBytes(ctx context.Context, bucket, objectName string, data []byte, contentType string) error {
	_, err := MinioClient.PutObject(ctx, bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("上传对象到 MinIO 失败 (%s/%s): %w", bucket, objectName, err)
	}
	return nil
}

// PresignedGetURL 为对象生成带签名的临时下载链接。
func (s *minioStore) PresignedGetURL(ctx context.Context, bucket, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := MinioClient.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
	if err != nil {
		log.Errorf("生成预签名 URL 失败: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}
