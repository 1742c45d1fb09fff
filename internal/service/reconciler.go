package service

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"fileguard/internal/repository"
	"fileguard/internal/scan"
	"fileguard/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// RefKind 区分临时 id 和持久 id，调用方必须显式声明引用哪一种。
type RefKind string

const (
	RefLocal   RefKind = "local"   // 会话内临时 id
	RefDurable RefKind = "durable" // 元数据库分配的持久 id
)

// FileRef 是带类型标签的文件引用。
type FileRef struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
}

func LocalRef(id string) FileRef   { return FileRef{Kind: RefLocal, ID: id} }
func DurableRef(id string) FileRef { return FileRef{Kind: RefDurable, ID: id} }

// Resolved 是引用解析的结果：文件去向已定，后续操作用 Ref 里的 id 继续。
type Resolved struct {
	Ref      FileRef
	Name     string
	Size     int64
	MimeType string
	URL      string
	Durable  bool

	bytes []byte // 仍持有的源字节，备份时可直传
}

// AnalysisResult 是一次完成的扫描。
type AnalysisResult struct {
	FileID      string                `json:"file_id"`
	Durable     bool                  `json:"durable"`
	Status      repository.FileStatus `json:"status"`
	Report      scan.Report           `json:"report"`
	HealthState scan.HealthState      `json:"health_state"`
	ScannedAt   time.Time             `json:"scanned_at"`
}

// BackupResult 是一次完成并已落库的备份。
type BackupResult struct {
	FileID    string    `json:"file_id"`
	BackupURL string    `json:"backup_url"`
	BackupAt  time.Time `json:"backup_at"`
}

// Reconciler 负责把可能只在内存、只在远端或两者皆有的文件引用
// 归并成单一可信来源，并在其上执行扫描与备份。
// 它不直接读取任何全局状态，身份一律由调用方显式传入。
type Reconciler struct {
	files  repository.FileRepository
	scans  repository.ScanRepository
	store  storage.Store
	engine *scan.Engine
	stash  *Stash
	logger *log.Logger

	// 同一文件 id 的并发操作合并到一次执行，
	// 避免双击备份产生两份孤儿对象
	group singleflight.Group

	now func() time.Time
}

func NewReconciler(
	files repository.FileRepository,
	scans repository.ScanRepository,
	store storage.Store,
	engine *scan.Engine,
	logger *log.Logger,
) *Reconciler {
	return &Reconciler{
		files:  files,
		scans:  scans,
		store:  store,
		engine: engine,
		stash:  NewStash(),
		logger: logger,
		now:    time.Now,
	}
}

// Stage 登记一个会话内的本地文件，返回临时引用。
// 此时不发生任何外部写入；物化推迟到首次需要时。
func (r *Reconciler) Stage(name string, size int64, mimeType string, data []byte) LocalFile {
	local := LocalFile{
		ID:       uuid.NewString(),
		Name:     name,
		Size:     size,
		MimeType: mimeType,
		Bytes:    data,
	}
	r.stash.Put(&local)
	return local
}

// ResolveForAnalysis 解析文件引用供扫描使用。
// 对象存储失败时降级为空地址继续（图像检查会被跳过）；
// 元数据落库失败则整个操作失败。
func (r *Reconciler) ResolveForAnalysis(ctx context.Context, ident Identity, ref FileRef) (Resolved, error) {
	return r.resolve(ctx, ident, ref, false)
}

func (r *Reconciler) resolve(ctx context.Context, ident Identity, ref FileRef, forBackup bool) (Resolved, error) {
	if ref.Kind == RefDurable {
		rec, err := r.files.GetByID(ctx, ref.ID)
		if err != nil {
			return Resolved{}, fmt.Errorf("load file record: %w", err)
		}

		resolved := Resolved{
			Ref:      DurableRef(rec.ID),
			Name:     rec.FileName,
			Size:     rec.FileSize,
			MimeType: rec.FileType,
			URL:      rec.FileURL,
			Durable:  true,
		}
		// 本会话若仍持有源字节，备份可以直传省一次往返
		if local, ok := r.stash.Get(rec.ID); ok && len(local.Bytes) > 0 {
			resolved.bytes = local.Bytes
		}
		return resolved, nil
	}

	local, ok := r.stash.Get(ref.ID)
	if !ok {
		return Resolved{}, fmt.Errorf("file %s: %w", ref.ID, repository.ErrNotFound)
	}

	resolved := Resolved{
		Ref:      FileRef{Kind: ref.Kind, ID: local.ID},
		Name:     local.Name,
		Size:     local.Size,
		MimeType: local.MimeType,
		URL:      local.URL,
		Durable:  local.Durable,
		bytes:    local.Bytes,
	}
	if local.Durable {
		resolved.Ref = DurableRef(local.ID)
	}

	// 已有地址，或调用方未认证（无法物化），按现状返回
	if local.URL != "" || !ident.Authenticated() {
		return resolved, nil
	}

	// 备份要求真实字节才值得物化；空字节留给 MissingSource 判定
	if forBackup && len(local.Bytes) == 0 {
		return resolved, nil
	}

	return r.materialize(ctx, ident, ref.ID, local, forBackup)
}

// materialize 把本地文件上传到对象存储并落库元数据，
// 将临时 id 一次性替换为持久 id。
func (r *Reconciler) materialize(ctx context.Context, ident Identity, ephemeralID string, local LocalFile, forBackup bool) (Resolved, error) {
	url := ""
	if len(local.Bytes) > 0 {
		key := storage.ObjectKey(ident.UserID, local.Name, r.now())
		loc, err := r.store.Write(ctx, key, bytes.NewReader(local.Bytes))
		switch {
		case err != nil && forBackup:
			return Resolved{}, fmt.Errorf("sync failed: %w", err)
		case err != nil:
			// 扫描可以在无地址下降级执行，不让存储故障阻塞分析
			if r.logger != nil {
				r.logger.Printf("对象存储上传失败，按无地址继续分析: %v", err)
			}
		default:
			url = loc.URL
		}
	}

	rec, err := r.files.Insert(ctx, repository.InsertFileParams{
		UserID:   ident.UserID,
		FileName: local.Name,
		FileSize: local.Size,
		FileType: local.MimeType,
		FileURL:  url,
	})
	if err != nil {
		return Resolved{}, fmt.Errorf("save file metadata: %w", err)
	}

	promoted := local
	promoted.ID = rec.ID
	promoted.URL = url
	promoted.Durable = true
	r.stash.Promote(ephemeralID, promoted)

	return Resolved{
		Ref:      DurableRef(rec.ID),
		Name:     rec.FileName,
		Size:     rec.FileSize,
		MimeType: rec.FileType,
		URL:      url,
		Durable:  true,
		bytes:    local.Bytes,
	}, nil
}

// Analyze 解析引用、打分，并为持久记录追加扫描历史。
// 同一 id 的并发扫描合并到一次执行。
func (r *Reconciler) Analyze(ctx context.Context, ident Identity, ref FileRef) (*AnalysisResult, error) {
	v, err, _ := r.group.Do("analyze:"+ref.ID, func() (any, error) {
		return r.analyze(ctx, ident, ref)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AnalysisResult), nil
}

func (r *Reconciler) analyze(ctx context.Context, ident Identity, ref FileRef) (*AnalysisResult, error) {
	resolved, err := r.resolve(ctx, ident, ref, false)
	if err != nil {
		return nil, err
	}

	report := r.engine.Score(ctx, scan.Input{
		Name:     resolved.Name,
		Size:     resolved.Size,
		MimeType: resolved.MimeType,
		URL:      resolved.URL,
	})
	state := scan.StateForScore(report.HealthScore)

	if resolved.Durable {
		if _, err := r.scans.Insert(ctx, repository.InsertScanParams{
			FileID:            resolved.Ref.ID,
			HealthScore:       report.HealthScore,
			Issues:            strings.Join(report.Issues, ", "),
			RecommendedAction: report.Action,
		}); err != nil {
			return nil, fmt.Errorf("save scan result: %w", err)
		}
	}

	scansTotal.WithLabelValues(string(state)).Inc()

	return &AnalysisResult{
		FileID:      resolved.Ref.ID,
		Durable:     resolved.Durable,
		Status:      repository.FileStatusCompleted,
		Report:      report,
		HealthState: state,
		ScannedAt:   r.now().UTC(),
	}, nil
}

// Backup 确保文件恰有一份备份副本且其地址已持久化。
// 备份落库失败则整个操作失败——对象已上传也不算完成；
// 孤儿对象可以接受，声称存在却不存在的备份记录不行。
//
// 并发的同 id 备份共享一次执行。已带备份地址的记录属于
// 调用方契约：再次调用会产生新的备份对象并覆盖旧地址。
func (r *Reconciler) Backup(ctx context.Context, ident Identity, ref FileRef) (*BackupResult, error) {
	if !ident.Authenticated() {
		return nil, ErrUnauthorized
	}

	v, err, _ := r.group.Do("backup:"+ref.ID, func() (any, error) {
		return r.backup(ctx, ident, ref)
	})
	if err != nil {
		backupFailuresTotal.Inc()
		return nil, err
	}
	return v.(*BackupResult), nil
}

func (r *Reconciler) backup(ctx context.Context, ident Identity, ref FileRef) (*BackupResult, error) {
	resolved, err := r.resolve(ctx, ident, ref, true)
	if err != nil {
		return nil, err
	}

	if resolved.URL == "" {
		return nil, ErrMissingSource
	}

	backupKey := storage.BackupKey(ident.UserID, resolved.Name, r.now())

	var loc storage.Location
	if len(resolved.bytes) > 0 {
		// 仍持有源字节：直传备份路径，省去存储端往返
		loc, err = r.store.Write(ctx, backupKey, bytes.NewReader(resolved.bytes))
		if err != nil {
			return nil, fmt.Errorf("backup upload: %w", err)
		}
	} else {
		srcKey, keyErr := r.store.KeyFromURL(resolved.URL)
		if keyErr != nil {
			return nil, keyErr
		}
		loc, err = r.store.Copy(ctx, srcKey, backupKey)
		if err != nil {
			return nil, fmt.Errorf("backup copy: %w", err)
		}
	}

	backupAt := r.now().UTC()
	if _, err := r.files.UpdateBackupInfo(ctx, resolved.Ref.ID, ident.UserID, loc.URL, backupAt); err != nil {
		return nil, fmt.Errorf("record backup info: %w", err)
	}

	backupsTotal.Inc()

	return &BackupResult{
		FileID:    resolved.Ref.ID,
		BackupURL: loc.URL,
		BackupAt:  backupAt,
	}, nil
}

// FileSummary 是列表视图的一项：文件元数据加最近扫描的归纳。
type FileSummary struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Size            int64                 `json:"size"`
	MimeType        string                `json:"mime_type"`
	URL             string                `json:"url,omitempty"`
	UploadedAt      time.Time             `json:"uploaded_at"`
	Status          repository.FileStatus `json:"status"`
	HealthScore     *int                  `json:"health_score,omitempty"`
	HealthState     scan.HealthState      `json:"health_state"`
	Issues          []string              `json:"issues,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
	BackupURL       *string               `json:"backup_url,omitempty"`
	BackupAt        *time.Time            `json:"backup_at,omitempty"`
}

// ListFiles 返回用户的全部持久文件，按上传时间倒序。
func (r *Reconciler) ListFiles(ctx context.Context, ident Identity) ([]FileSummary, error) {
	if !ident.Authenticated() {
		return nil, ErrUnauthorized
	}

	records, err := r.files.ListForUser(ctx, ident.UserID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	summaries := make([]FileSummary, 0, len(records))
	for _, rec := range records {
		summary := FileSummary{
			ID:          rec.ID,
			Name:        rec.FileName,
			Size:        rec.FileSize,
			MimeType:    rec.FileType,
			URL:         rec.FileURL,
			UploadedAt:  rec.UploadedAt,
			Status:      repository.FileStatusPending,
			HealthState: scan.HealthUnknown,
			BackupURL:   rec.BackupURL,
			BackupAt:    rec.BackupAt,
		}

		if rec.LastScan != nil {
			score := rec.LastScan.HealthScore
			summary.Status = repository.FileStatusCompleted
			summary.HealthScore = &score
			summary.HealthState = scan.StateForScore(score)
			if rec.LastScan.Issues != "" {
				summary.Issues = strings.Split(rec.LastScan.Issues, ", ")
			}
			if rec.LastScan.RecommendedAction != "" {
				summary.Recommendations = []string{rec.LastScan.RecommendedAction}
			}
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// GetFile 返回单个持久文件记录。
func (r *Reconciler) GetFile(ctx context.Context, id string) (*repository.FileRecord, error) {
	return r.files.GetByID(ctx, id)
}

// History 返回一个文件的全部扫描历史，新的在前。
func (r *Reconciler) History(ctx context.Context, fileID string) ([]repository.ScanRecord, error) {
	return r.scans.ListByFile(ctx, fileID)
}
