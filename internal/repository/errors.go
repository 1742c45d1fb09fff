package repository

import "errors"

// ErrNotFound 表示目标记录不存在。
var ErrNotFound = errors.New("repository: record not found")

// ErrPermissionDenied 表示授权策略拒绝了本次写入。
var ErrPermissionDenied = errors.New("repository: permission denied")
