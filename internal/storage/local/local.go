package local

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"fileguard/internal/storage"
)

// Store 将对象写入本地文件系统，开发环境使用。
type Store struct {
	BaseDir string
	BaseURL string
}

func New(baseDir, baseURL string) *Store {
	return &Store{BaseDir: baseDir, BaseURL: baseURL}
}

// Write 以临时文件加改名的方式写入，避免留下半截对象。
func (s *Store) Write(ctx context.Context, key string, r io.Reader) (storage.Location, error) {
	if s == nil {
		return storage.Location{}, fmt.Errorf("local store uninitialized")
	}

	select {
	case <-ctx.Done():
		return storage.Location{}, ctx.Err()
	default:
	}

	targetPath := filepath.Join(s.BaseDir, filepath.Clean(key))
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return storage.Location{}, fmt.Errorf("ensure dir: %w", err)
	}

	tempPath := targetPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return storage.Location{}, fmt.Errorf("create temp file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		return storage.Location{}, fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return storage.Location{}, fmt.Errorf("rename temp file: %w", err)
	}

	return storage.Location{Path: targetPath, URL: s.PublicURL(key)}, nil
}

// Read 打开并返回指定 key 对应的文件内容。
func (s *Store) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil {
		return nil, fmt.Errorf("local store uninitialized")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	targetPath := filepath.Join(s.BaseDir, filepath.Clean(key))
	file, err := os.Open(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	return file, nil
}

// Copy 复制本地对象到新 key。
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) (storage.Location, error) {
	src, err := s.Read(ctx, srcKey)
	if err != nil {
		return storage.Location{}, err
	}
	defer src.Close()

	return s.Write(ctx, dstKey, src)
}

// PublicURL 由配置的下载前缀和 key 拼出公开地址。
func (s *Store) PublicURL(key string) string {
	if s == nil || s.BaseURL == "" {
		return ""
	}
	u, err := url.JoinPath(s.BaseURL, filepath.ToSlash(key))
	if err != nil {
		return ""
	}
	return u
}

// KeyFromURL 从公开地址剥离下载前缀得到对象 key。
func (s *Store) KeyFromURL(raw string) (string, error) {
	if s == nil || s.BaseURL == "" {
		return "", fmt.Errorf("local store has no base URL")
	}
	base := strings.TrimRight(s.BaseURL, "/") + "/"
	if !strings.HasPrefix(raw, base) {
		return "", fmt.Errorf("invalid file URL format: %s", raw)
	}
	key := strings.TrimPrefix(raw, base)
	if key == "" {
		return "", fmt.Errorf("invalid file URL format: %s", raw)
	}
	return key, nil
}
