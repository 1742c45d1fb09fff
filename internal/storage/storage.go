package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound 表示对象在存储中不存在。
var ErrNotFound = errors.New("storage: object not found")

// Store 是对象存储的完整接口：流式读写、存储端复制、
// 以及从 key 到公开地址的确定性换算（不发起网络请求）。
type Store interface {
	Write(ctx context.Context, key string, r io.Reader) (Location, error)
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	// Copy 在存储端将 srcKey 复制到 dstKey，客户端不经手字节。
	Copy(ctx context.Context, srcKey, dstKey string) (Location, error)
	PublicURL(key string) string
	// KeyFromURL 从公开地址反推对象 key，用于只持有 URL 的备份复制。
	KeyFromURL(raw string) (string, error)
}

// Location 描述已经写入对象的可访问信息。
type Location struct {
	Path string
	URL  string
}
