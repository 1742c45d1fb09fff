package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"fileguard/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config 包含 S3/MinIO 存储所需的配置。
type Config struct {
	Endpoint  string // 不含协议，如 "localhost:9000" 或 "s3.amazonaws.com"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool // 是否使用 HTTPS
	PathStyle bool // 是否使用路径风格（MinIO 需要 true）
}

// Store 实现了 storage.Store 接口，使用 S3 兼容存储。
// bucket 不在启动时预建：首次上传遇到 bucket 缺失时自动创建并重试一次。
type Store struct {
	client *minio.Client
	bucket string
	region string
}

// New 创建新的 S3 存储实例。
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Write 将文件写入 S3 存储。bucket 缺失时自动补建后重试一次。
func (s *Store) Write(ctx context.Context, key string, r io.Reader) (storage.Location, error) {
	if s == nil || s.client == nil {
		return storage.Location{}, fmt.Errorf("s3 storage uninitialized")
	}

	cleanKey := cleanObjectKey(key)

	// 先读入内存再上传，bucket 补建后的重试需要能重放字节
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.Location{}, fmt.Errorf("read object bytes: %w", err)
	}

	info, err := s.client.PutObject(ctx, s.bucket, cleanKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		if !isBucketMissing(err) {
			return storage.Location{}, fmt.Errorf("put object: %w", err)
		}

		if provisionErr := s.provisionBucket(ctx); provisionErr != nil {
			return storage.Location{}, fmt.Errorf("bucket %q missing and auto-create failed: %w", s.bucket, provisionErr)
		}

		info, err = s.client.PutObject(ctx, s.bucket, cleanKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		if err != nil {
			return storage.Location{}, fmt.Errorf("put object after bucket create: %w", err)
		}
	}

	return storage.Location{
		Path: info.Key,
		URL:  s.PublicURL(info.Key),
	}, nil
}

// Read 从 S3 存储读取文件。
func (s *Store) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("s3 storage uninitialized")
	}

	cleanKey := cleanObjectKey(key)

	obj, err := s.client.GetObject(ctx, s.bucket, cleanKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	// 验证对象是否存在
	_, err = obj.Stat()
	if err != nil {
		obj.Close()
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}

	return obj, nil
}

// Copy 在存储端复制对象，避免把字节拉回客户端再上传。
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) (storage.Location, error) {
	if s == nil || s.client == nil {
		return storage.Location{}, fmt.Errorf("s3 storage uninitialized")
	}

	src := minio.CopySrcOptions{Bucket: s.bucket, Object: cleanObjectKey(srcKey)}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: cleanObjectKey(dstKey)}

	info, err := s.client.CopyObject(ctx, dst, src)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return storage.Location{}, fmt.Errorf("%w: %s", storage.ErrNotFound, srcKey)
		}
		return storage.Location{}, fmt.Errorf("copy object: %w", err)
	}

	return storage.Location{
		Path: info.Key,
		URL:  s.PublicURL(info.Key),
	}, nil
}

// PublicURL 由端点、bucket 和 key 直接拼出公开地址，不发起网络请求。
func (s *Store) PublicURL(key string) string {
	if s == nil || s.client == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.client.EndpointURL().String(), "/"), s.bucket, cleanObjectKey(key))
}

// KeyFromURL 从公开地址中截取对象 key。
func (s *Store) KeyFromURL(raw string) (string, error) {
	marker := "/" + s.bucket + "/"
	parts := strings.SplitN(raw, marker, 2)
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("invalid file URL format: %s", raw)
	}
	return parts[1], nil
}

func (s *Store) provisionBucket(ctx context.Context) error {
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// 并发补建时可能已被其他请求创建
		exists, checkErr := s.client.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket: %w", err)
	}

	// 公开只读策略，让 PublicURL 可直接访问
	policy := fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": ["*"]},
			"Action": ["s3:GetObject"],
			"Resource": ["arn:aws:s3:::%s/*"]
		}]
	}`, s.bucket)
	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("set bucket policy: %w", err)
	}

	return nil
}

func isBucketMissing(err error) bool {
	errResp := minio.ToErrorResponse(err)
	return errResp.Code == "NoSuchBucket"
}

func cleanObjectKey(key string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(key)), "/")
}
