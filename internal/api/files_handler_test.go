package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"fileguard/internal/middleware"
	"fileguard/internal/repository"
	"fileguard/internal/scan"
	"fileguard/internal/service"
	"fileguard/internal/storage"

	"github.com/go-chi/chi/v5"
)

const testBaseURL = "https://obj.test/user-files"

type stubFileRepo struct {
	inserts []repository.InsertFileParams
	records map[string]*repository.FileRecord
	listing []repository.FileWithScan
}

func (s *stubFileRepo) Insert(ctx context.Context, params repository.InsertFileParams) (*repository.FileRecord, error) {
	s.inserts = append(s.inserts, params)
	rec := &repository.FileRecord{
		ID:         fmt.Sprintf("db-%d", len(s.inserts)),
		UserID:     params.UserID,
		FileName:   params.FileName,
		FileSize:   params.FileSize,
		FileType:   params.FileType,
		FileURL:    params.FileURL,
		UploadedAt: time.Now(),
	}
	if s.records == nil {
		s.records = make(map[string]*repository.FileRecord)
	}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *stubFileRepo) GetByID(ctx context.Context, id string) (*repository.FileRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *stubFileRepo) ListForUser(ctx context.Context, userID string) ([]repository.FileWithScan, error) {
	return s.listing, nil
}

func (s *stubFileRepo) UpdateBackupInfo(ctx context.Context, id, userID, backupURL string, backupAt time.Time) (*repository.FileRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *rec
	copied.BackupURL = &backupURL
	copied.BackupAt = &backupAt
	return &copied, nil
}

type stubScanRepo struct {
	inserts []repository.InsertScanParams
}

func (s *stubScanRepo) Insert(ctx context.Context, params repository.InsertScanParams) (*repository.ScanRecord, error) {
	s.inserts = append(s.inserts, params)
	return &repository.ScanRecord{
		ID:                fmt.Sprintf("scan-%d", len(s.inserts)),
		FileID:            params.FileID,
		HealthScore:       params.HealthScore,
		Issues:            params.Issues,
		RecommendedAction: params.RecommendedAction,
		ScannedAt:         time.Now(),
	}, nil
}

func (s *stubScanRepo) ListByFile(ctx context.Context, fileID string) ([]repository.ScanRecord, error) {
	return nil, nil
}

type stubStore struct {
	writes int
	copies int
}

func (s *stubStore) Write(ctx context.Context, key string, r io.Reader) (storage.Location, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return storage.Location{}, err
	}
	s.writes++
	return storage.Location{Path: key, URL: s.PublicURL(key)}, nil
}

func (s *stubStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}

func (s *stubStore) Copy(ctx context.Context, srcKey, dstKey string) (storage.Location, error) {
	s.copies++
	return storage.Location{Path: dstKey, URL: s.PublicURL(dstKey)}, nil
}

func (s *stubStore) PublicURL(key string) string {
	return testBaseURL + "/" + key
}

func (s *stubStore) KeyFromURL(raw string) (string, error) {
	key := strings.TrimPrefix(raw, testBaseURL+"/")
	if key == raw {
		return "", fmt.Errorf("url %q does not belong to this store", raw)
	}
	return key, nil
}

// newTestServer 装配真实的 Reconciler 加内存桩，并用测试中间件
// 从 X-Test-User 头注入用户身份，替代完整的 JWT 校验链。
func newTestServer(t *testing.T) (*httptest.Server, *stubFileRepo, *stubScanRepo, *stubStore) {
	t.Helper()

	files := &stubFileRepo{}
	scans := &stubScanRepo{}
	store := &stubStore{}

	reconciler := service.NewReconciler(files, scans, store, scan.NewEngine(nil), nil)
	handler := NewFileHandler(reconciler, 10*1024*1024)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if user := req.Header.Get("X-Test-User"); user != "" {
				ctx := context.WithValue(req.Context(), middleware.OwnerContextKey{}, user)
				req = req.WithContext(ctx)
			}
			next.ServeHTTP(w, req)
		})
	})
	handler.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, files, scans, store
}

func multipartUpload(t *testing.T, url, fieldName, fileName, mimeType string, content []byte, user string) *http.Response {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, fileName))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url+"/files", &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func postRef(t *testing.T, url, path, kind, user string) *http.Response {
	t.Helper()

	var body io.Reader
	if kind != "" {
		body = strings.NewReader(fmt.Sprintf(`{"kind":%q}`, kind))
	}
	req, err := http.NewRequest(http.MethodPost, url+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if kind != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestStageFile(t *testing.T) {
	srv, files, _, store := newTestServer(t)

	resp := multipartUpload(t, srv.URL, "file", "a.jpg", "image/jpeg", []byte("hello"), "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var staged struct {
		ID       string `json:"id"`
		Kind     string `json:"kind"`
		Name     string `json:"name"`
		Size     int64  `json:"size"`
		MimeType string `json:"mime_type"`
		Status   string `json:"status"`
	}
	decodeData(t, resp, &staged)

	if staged.ID == "" {
		t.Fatal("staged file must carry an id")
	}
	if staged.Kind != string(service.RefLocal) {
		t.Fatalf("expected local ref kind, got %q", staged.Kind)
	}
	if staged.Status != string(repository.FileStatusPending) {
		t.Fatalf("expected pending status, got %q", staged.Status)
	}
	if staged.Size != 5 || staged.MimeType != "image/jpeg" {
		t.Fatalf("metadata mismatch: %+v", staged)
	}

	// 登记阶段不触碰任何外部系统
	if len(files.inserts) != 0 || store.writes != 0 {
		t.Fatal("staging must not materialize the file")
	}
}

func TestStageFile_MissingFileField(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("name", "a.jpg")
	_ = writer.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/files", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAnalyzeLocalFile_Authenticated(t *testing.T) {
	srv, files, scans, _ := newTestServer(t)

	resp := multipartUpload(t, srv.URL, "file", "photo_copy(1).png", "image/png", bytes.Repeat([]byte("x"), 500), "user-1")
	var staged struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &staged)

	resp = postRef(t, srv.URL, "/files/"+staged.ID+"/analyze", "local", "user-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		FileID  string `json:"file_id"`
		Durable bool   `json:"durable"`
		Status  string `json:"status"`
		Report  struct {
			HealthScore int      `json:"health_score"`
			Issues      []string `json:"issues"`
			Action      string   `json:"action"`
		} `json:"report"`
		HealthState string `json:"health_state"`
	}
	decodeData(t, resp, &result)

	if !result.Durable {
		t.Fatal("authenticated analysis must yield a durable record")
	}
	if result.FileID != "db-1" {
		t.Fatalf("expected durable id db-1, got %q", result.FileID)
	}
	if result.Report.HealthScore != 85 {
		t.Fatalf("expected score 85, got %d", result.Report.HealthScore)
	}
	if len(result.Report.Issues) == 0 {
		t.Fatal("issue list must never be empty")
	}
	if len(files.inserts) != 1 || len(scans.inserts) != 1 {
		t.Fatalf("expected one file insert and one scan insert, got %d/%d", len(files.inserts), len(scans.inserts))
	}
}

func TestAnalyzeFile_UnknownDurable(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp := postRef(t, srv.URL, "/files/missing/analyze", "durable", "user-1")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAnalyzeFile_RejectsUnknownRefKind(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp := postRef(t, srv.URL, "/files/some-id/analyze", "ghost", "user-1")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBackupFile_Unauthenticated(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp := postRef(t, srv.URL, "/files/db-1/backup", "durable", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestBackupFile_MissingSource(t *testing.T) {
	srv, _, _, store := newTestServer(t)

	resp := multipartUpload(t, srv.URL, "file", "empty.txt", "text/plain", nil, "user-1")
	var staged struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &staged)

	resp = postRef(t, srv.URL, "/files/"+staged.ID+"/backup", "local", "user-1")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if store.writes != 0 {
		t.Fatal("zero-byte file must not be uploaded")
	}
}

func TestBackupFile_LocalFlow(t *testing.T) {
	srv, _, _, store := newTestServer(t)

	resp := multipartUpload(t, srv.URL, "file", "a.jpg", "image/jpeg", []byte("hello"), "user-1")
	var staged struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &staged)

	resp = postRef(t, srv.URL, "/files/"+staged.ID+"/backup", "local", "user-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		FileID    string `json:"file_id"`
		BackupURL string `json:"backup_url"`
	}
	decodeData(t, resp, &result)

	if result.FileID != "db-1" {
		t.Fatalf("expected durable id db-1, got %q", result.FileID)
	}
	if !strings.Contains(result.BackupURL, "/backup/user-1/") {
		t.Fatalf("unexpected backup url %q", result.BackupURL)
	}
	if store.writes != 2 {
		t.Fatalf("expected live plus backup write, got %d", store.writes)
	}
}

func TestListFiles(t *testing.T) {
	srv, files, _, _ := newTestServer(t)
	files.listing = []repository.FileWithScan{
		{
			FileRecord: repository.FileRecord{
				ID: "db-1", UserID: "user-1", FileName: "a.jpg",
				FileSize: 5, FileType: "image/jpeg",
			},
			LastScan: &repository.ScanRecord{
				FileID: "db-1", HealthScore: 97,
				RecommendedAction: scan.ActionHealthy,
			},
		},
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/files", nil)
	req.Header.Set("X-Test-User", "user-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var summaries []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		HealthState string `json:"health_state"`
	}
	decodeData(t, resp, &summaries)

	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].Status != string(repository.FileStatusCompleted) {
		t.Fatalf("expected COMPLETED, got %q", summaries[0].Status)
	}
	if summaries[0].HealthState != string(scan.HealthHealthy) {
		t.Fatalf("expected healthy state, got %q", summaries[0].HealthState)
	}
}

func TestListFiles_Unauthenticated(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/files")
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
