package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"fileguard/internal/middleware"
	"fileguard/internal/repository"
	"fileguard/internal/service"

	"github.com/go-chi/chi/v5"
)

// FileHandler 提供文件登记、扫描与备份的 HTTP 端点。
type FileHandler struct {
	svc            *service.Reconciler
	maxUploadBytes int64
}

func NewFileHandler(svc *service.Reconciler, maxUploadBytes int64) *FileHandler {
	return &FileHandler{svc: svc, maxUploadBytes: maxUploadBytes}
}

func (h *FileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/files", func(r chi.Router) {
		r.Get("/", h.ListFiles)
		r.Post("/", h.StageFile)
		r.Get("/{id}", h.GetFile)
		r.Get("/{id}/history", h.ScanHistory)
		r.Post("/{id}/analyze", h.AnalyzeFile)
		r.Post("/{id}/backup", h.BackupFile)
	})
}

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

const multipartMemoryBudget int64 = 16 * 1024 * 1024

// refRequest 是扫描与备份请求体：带类型标签的文件引用。
type refRequest struct {
	Kind service.RefKind `json:"kind"`
}

// StageFile 接受 multipart/form-data 上传并登记为会话内本地文件。
// 此时不上传对象存储，物化推迟到首次扫描或备份。
func (h *FileHandler) StageFile(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemoryBudget)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	sizeBytes, err := determineFileSize(file, header)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sizeBytes > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds size limit")
		return
	}

	mimeType, err := resolveMimeType(header, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := rewindFile(file); err != nil {
		writeError(w, http.StatusInternalServerError, "unable to read uploaded file")
		return
	}

	// 空文件照常登记：扫描会按硬性下限判 0 分
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to read uploaded file")
		return
	}

	name := header.Filename
	if override := strings.TrimSpace(r.FormValue("name")); override != "" {
		name = override
	}

	staged := h.svc.Stage(name, sizeBytes, mimeType, data)

	writeJSON(w, http.StatusCreated, envelope{Data: map[string]any{
		"id":        staged.ID,
		"kind":      service.RefLocal,
		"name":      staged.Name,
		"size":      staged.Size,
		"mime_type": staged.MimeType,
		"status":    repository.FileStatusPending,
	}})
}

// ListFiles 返回当前用户的文件及各自最近一次扫描结论。
func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	summaries, err := h.svc.ListFiles(r.Context(), identityFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: summaries})
}

// GetFile 返回单个持久文件的元数据。
func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "file id is required")
		return
	}

	file, err := h.svc.GetFile(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: file})
}

// ScanHistory 返回一个文件的扫描历史，新的在前。
func (h *FileHandler) ScanHistory(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "file id is required")
		return
	}

	history, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: history})
}

// AnalyzeFile 对指定引用执行一次扫描。
func (h *FileHandler) AnalyzeFile(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	ref, ok := h.parseRef(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Analyze(r.Context(), identityFrom(r), ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: result})
}

// BackupFile 为指定引用创建备份副本并落库备份地址。
func (h *FileHandler) BackupFile(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	ref, ok := h.parseRef(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Backup(r.Context(), identityFrom(r), ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: result})
}

func (h *FileHandler) parseRef(w http.ResponseWriter, r *http.Request) (service.FileRef, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "file id is required")
		return service.FileRef{}, false
	}

	req := refRequest{Kind: service.RefDurable}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return service.FileRef{}, false
		}
	}

	switch req.Kind {
	case service.RefLocal, service.RefDurable:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown ref kind %q", req.Kind))
		return service.FileRef{}, false
	}

	return service.FileRef{Kind: req.Kind, ID: id}, true
}

func identityFrom(r *http.Request) service.Identity {
	return service.Identity{UserID: middleware.GetOwnerID(r.Context())}
}

// writeServiceError 把服务层的类型化错误映射为 HTTP 状态码。
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, repository.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied: backup record update was rejected by policy")
	case errors.Is(err, service.ErrMissingSource):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func determineFileSize(file multipart.File, header *multipart.FileHeader) (int64, error) {
	if header != nil && header.Size > 0 {
		return header.Size, nil
	}

	seeker, ok := file.(io.Seeker)
	if !ok {
		return 0, fmt.Errorf("cannot determine file size")
	}

	size, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("measure file: %w", err)
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind file: %w", err)
	}

	return size, nil
}

func resolveMimeType(header *multipart.FileHeader, file multipart.File) (string, error) {
	if header != nil {
		if value := header.Header.Get("Content-Type"); value != "" {
			return value, nil
		}
	}

	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("detect mime: %w", err)
	}

	if err := rewindFile(file); err != nil {
		return "", err
	}
	if n == 0 {
		return "application/octet-stream", nil
	}
	return http.DetectContentType(buf[:n]), nil
}

func rewindFile(file multipart.File) error {
	seeker, ok := file.(io.Seeker)
	if !ok {
		return fmt.Errorf("upload reader is not seekable")
	}
	_, err := seeker.Seek(0, io.SeekStart)
	return err
}
