package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fileguard/internal/repository"
)

// NewScanRepository 返回基于 *sql.DB 的扫描历史实现。
func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// ScanRepository 实现 repository.ScanRepository。
type ScanRepository struct {
	db *sql.DB
}

var scanSelectColumns = []string{
	"id",
	"file_id",
	"health_score",
	"issues",
	"recommended_action",
	"scanned_at",
}

// Insert 追加一条扫描结论。
func (r *ScanRepository) Insert(ctx context.Context, params repository.InsertScanParams) (*repository.ScanRecord, error) {
	query := fmt.Sprintf(`INSERT INTO file_scans (file_id, health_score, issues, recommended_action)
	VALUES ($1, $2, $3, $4)
	RETURNING %s`, strings.Join(scanSelectColumns, ","))

	row := r.db.QueryRowContext(
		ctx,
		query,
		params.FileID,
		params.HealthScore,
		params.Issues,
		params.RecommendedAction,
	)

	return scanScanRecord(row)
}

// ListByFile 按扫描时间倒序返回一个文件的全部扫描历史。
func (r *ScanRepository) ListByFile(ctx context.Context, fileID string) ([]repository.ScanRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM file_scans WHERE file_id = $1 ORDER BY scanned_at DESC`,
		strings.Join(scanSelectColumns, ","))

	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.ScanRecord
	for rows.Next() {
		rec, err := scanScanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func scanScanRecord(rs rowScanner) (*repository.ScanRecord, error) {
	var rec repository.ScanRecord
	if err := rs.Scan(
		&rec.ID,
		&rec.FileID,
		&rec.HealthScore,
		&rec.Issues,
		&rec.RecommendedAction,
		&rec.ScannedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
