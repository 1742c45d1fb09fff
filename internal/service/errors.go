package service

import "errors"

// ErrUnauthorized 表示操作需要已认证的调用者身份。
var ErrUnauthorized = errors.New("authentication required")

// ErrMissingSource 表示备份时文件既无已存储字节也无可获取地址。
var ErrMissingSource = errors.New("cannot back up: file has no stored bytes")
