package storage

import (
	"fmt"
	"strings"
	"time"
)

// ObjectKey 生成活跃对象的存储路径：<userID>/<毫秒时间戳>_<清洗后文件名>。
func ObjectKey(userID, fileName string, now time.Time) string {
	return fmt.Sprintf("%s/%d_%s", userID, now.UnixMilli(), SanitizeName(fileName))
}

// BackupKey 生成备份副本的存储路径，统一挂在 backup/ 前缀下。
func BackupKey(userID, fileName string, now time.Time) string {
	return fmt.Sprintf("backup/%s/%d_%s", userID, now.UnixMilli(), SanitizeName(fileName))
}

// SanitizeName 去除文件名中的非 ASCII 字符，避免路径编码问题。
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r <= 0x7F {
			b.WriteRune(r)
		}
	}
	return b.String()
}
