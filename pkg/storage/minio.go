// Package storage 提供了与对象存储服务（如 MinIO）交互的功能，用来保存模板树快照。
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"content-system-go/internal/config"
	"content-system-go/internal/model"
	"content-system-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// ErrSnapshotNotFound 表示项目分支还没有快照。
var ErrSnapshotNotFound = errors.New("tree snapshot not found")

// NewClient 按配置创建一个 MinIO 客户端。
func NewClient(cfg config.MinIOConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) error {
	client, err := NewClient(cfg)
	if err != nil {
		return fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
	MinioClient = client
	return nil
}

// ObjectName 返回项目分支快照的对象名。
func ObjectName(project, branch string) string {
	return fmt.Sprintf("trees/%s/%s.json", project, branch)
}

// Archiver 把每次重建得到的模板树保存为 JSON 快照。
type Archiver struct {
	client *minio.Client
	bucket string
}

// NewArchiver 创建一个写入指定存储桶的 Archiver。
func NewArchiver(client *minio.Client, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket}
}

// ArchiveTree 覆盖写入项目分支的快照。
func (a *Archiver) ArchiveTree(ctx context.Context, project, branch string, tree *model.TreeNode) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("序列化模板树失败: %w", err)
	}
	objectName := ObjectName(project, branch)
	_, err = a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("上传快照 %s 失败: %w", objectName, err)
	}
	log.Infof("模板树快照已保存: %s/%s", a.bucket, objectName)
	return nil
}

// SnapshotURL 为项目分支的快照生成一个预签名下载地址。
func (a *Archiver) SnapshotURL(ctx context.Context, project, branch string, expiry time.Duration) (string, error) {
	objectName := ObjectName(project, branch)
	if _, err := a.client.StatObject(ctx, a.bucket, objectName, minio.StatObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
			return "", ErrSnapshotNotFound
		}
		return "", fmt.Errorf("查询快照 %s 失败: %w", objectName, err)
	}
	presignedURL, err := a.client.PresignedGetObject(ctx, a.bucket, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}
