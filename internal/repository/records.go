package repository

import (
	"context"
	"time"
)

// FileStatus 描述一次扫描的生命周期。状态不落库：
// 列表视图里有扫描记录即为 COMPLETED，否则为 PENDING。
type FileStatus string

const (
	FileStatusPending   FileStatus = "PENDING"
	FileStatusAnalyzing FileStatus = "ANALYZING"
	FileStatusCompleted FileStatus = "COMPLETED"
	FileStatusError     FileStatus = "ERROR"
)

// FileRecord 代表 user_files 表中的一条文件元数据。
// ID 由数据库生成，是文件的持久标识。
type FileRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	FileName   string     `json:"file_name"`
	FileSize   int64      `json:"file_size"`
	FileType   string     `json:"file_type"`
	FileURL    string     `json:"file_url"`
	UploadedAt time.Time  `json:"uploaded_at"`
	BackupURL  *string    `json:"backup_url,omitempty"`
	BackupAt   *time.Time `json:"backup_at,omitempty"`
}

// ScanRecord 代表 file_scans 表中的一次扫描结论，只追加不修改。
type ScanRecord struct {
	ID                string    `json:"id"`
	FileID            string    `json:"file_id"`
	HealthScore       int       `json:"health_score"`
	Issues            string    `json:"issues"`
	RecommendedAction string    `json:"recommended_action"`
	ScannedAt         time.Time `json:"scanned_at"`
}

// FileWithScan 是列表视图的联结结果：文件加上其最近一次扫描。
type FileWithScan struct {
	FileRecord
	LastScan *ScanRecord `json:"last_scan,omitempty"`
}

// InsertFileParams 描述创建文件记录所需的信息。
type InsertFileParams struct {
	UserID   string
	FileName string
	FileSize int64
	FileType string
	FileURL  string
}

// InsertScanParams 描述追加一次扫描结论所需的信息。
type InsertScanParams struct {
	FileID            string
	HealthScore       int
	Issues            string
	RecommendedAction string
}

// FileRepository 统一文件元数据持久层接口。
type FileRepository interface {
	Insert(ctx context.Context, params InsertFileParams) (*FileRecord, error)
	GetByID(ctx context.Context, id string) (*FileRecord, error)
	ListForUser(ctx context.Context, userID string) ([]FileWithScan, error)
	// UpdateBackupInfo 只允许文件属主写入备份地址。
	// 记录存在但属主不符时返回 ErrPermissionDenied。
	UpdateBackupInfo(ctx context.Context, id, userID, backupURL string, backupAt time.Time) (*FileRecord, error)
}

// ScanRepository 统一扫描历史持久层接口。
type ScanRepository interface {
	Insert(ctx context.Context, params InsertScanParams) (*ScanRecord, error)
	ListByFile(ctx context.Context, fileID string) ([]ScanRecord, error)
}
