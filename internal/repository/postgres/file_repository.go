package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fileguard/internal/repository"
)

// NewFileRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

// FileRepository 实现 repository.FileRepository。
type FileRepository struct {
	db *sql.DB
}

var fileSelectColumns = []string{
	"id",
	"user_id",
	"file_name",
	"file_size",
	"file_type",
	"file_url",
	"uploaded_at",
	"backup_url",
	"backup_at",
}

// Insert 插入文件记录并返回数据库生成字段（id、时间戳）。
func (r *FileRepository) Insert(ctx context.Context, params repository.InsertFileParams) (*repository.FileRecord, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	query := fmt.Sprintf(`INSERT INTO user_files (user_id, file_name, file_size, file_type, file_url)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING %s`, strings.Join(fileSelectColumns, ","))

	row := r.db.QueryRowContext(
		ctx,
		query,
		params.UserID,
		params.FileName,
		params.FileSize,
		params.FileType,
		params.FileURL,
	)

	return scanFileRecord(row)
}

// GetByID 通过主键查询文件记录。
func (r *FileRepository) GetByID(ctx context.Context, id string) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_files WHERE id = $1`, strings.Join(fileSelectColumns, ","))
	row := r.db.QueryRowContext(ctx, query, id)
	file, err := scanFileRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

// ListForUser 按上传时间倒序返回用户的全部文件，并带上各自最近一次扫描。
func (r *FileRepository) ListForUser(ctx context.Context, userID string) ([]repository.FileWithScan, error) {
	query := fmt.Sprintf(`SELECT %s,
		s.id, s.file_id, s.health_score, s.issues, s.recommended_action, s.scanned_at
	FROM user_files f
	LEFT JOIN LATERAL (
		SELECT id, file_id, health_score, issues, recommended_action, scanned_at
		FROM file_scans
		WHERE file_id = f.id
		ORDER BY scanned_at DESC
		LIMIT 1
	) s ON true
	WHERE f.user_id = $1
	ORDER BY f.uploaded_at DESC`, prefixColumns("f", fileSelectColumns))

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.FileWithScan
	for rows.Next() {
		var (
			item       repository.FileWithScan
			backupURL  sql.NullString
			backupAt   sql.NullTime
			scanID     sql.NullString
			scanFileID sql.NullString
			score      sql.NullInt64
			issues     sql.NullString
			action     sql.NullString
			scannedAt  sql.NullTime
		)

		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.FileName,
			&item.FileSize,
			&item.FileType,
			&item.FileURL,
			&item.UploadedAt,
			&backupURL,
			&backupAt,
			&scanID,
			&scanFileID,
			&score,
			&issues,
			&action,
			&scannedAt,
		); err != nil {
			return nil, err
		}

		if backupURL.Valid {
			item.BackupURL = &backupURL.String
		}
		if backupAt.Valid {
			item.BackupAt = &backupAt.Time
		}
		if scanID.Valid {
			item.LastScan = &repository.ScanRecord{
				ID:                scanID.String,
				FileID:            scanFileID.String,
				HealthScore:       int(score.Int64),
				Issues:            issues.String,
				RecommendedAction: action.String,
				ScannedAt:         scannedAt.Time,
			}
		}

		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateBackupInfo 写入备份地址与时间。更新按属主过滤：
// 零行命中时区分“记录不存在”和“策略拒绝”，后者对调用方必须是可辨识的错误。
func (r *FileRepository) UpdateBackupInfo(ctx context.Context, id, userID, backupURL string, backupAt time.Time) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`UPDATE user_files
	SET backup_url = $1, backup_at = $2
	WHERE id = $3 AND user_id = $4
	RETURNING %s`, strings.Join(fileSelectColumns, ","))

	row := r.db.QueryRowContext(ctx, query, backupURL, backupAt, id, userID)
	file, err := scanFileRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			if _, getErr := r.GetByID(ctx, id); getErr == nil {
				return nil, repository.ErrPermissionDenied
			}
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(rs rowScanner) (*repository.FileRecord, error) {
	var (
		rec       repository.FileRecord
		backupURL sql.NullString
		backupAt  sql.NullTime
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.FileName,
		&rec.FileSize,
		&rec.FileType,
		&rec.FileURL,
		&rec.UploadedAt,
		&backupURL,
		&backupAt,
	); err != nil {
		return nil, err
	}

	if backupURL.Valid {
		rec.BackupURL = &backupURL.String
	}
	if backupAt.Valid {
		rec.BackupAt = &backupAt.Time
	}

	return &rec, nil
}

func prefixColumns(alias string, columns []string) string {
	prefixed := make([]string, len(columns))
	for i, col := range columns {
		prefixed[i] = alias + "." + col
	}
	return strings.Join(prefixed, ",")
}
