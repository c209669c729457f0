// Package httpserver exposes the file vault HTTP API.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/file-vault/internal/crypto"
	"github.com/and161185/file-vault/internal/errs"
	"github.com/and161185/file-vault/internal/model"
	"github.com/and161185/file-vault/internal/service"
)

// DefaultMaxUploadBytes bounds a multipart upload body.
const DefaultMaxUploadBytes int64 = 32 << 20

// multipart parts above this size spill to temp files
const multipartMemory = 8 << 20

// Config holds transport settings.
type Config struct {
	MaxUploadBytes int64  // <= 0 means DefaultMaxUploadBytes
	SignKey        []byte // HS256 key for bearer identities; empty disables bearer tokens
	CORSOrigin     string // Access-Control-Allow-Origin for /api/ routes; empty disables CORS
}

// Server wires the file service into HTTP handlers.
type Server struct {
	files     service.FileService
	log       *zap.Logger
	health    func(context.Context) error
	maxUpload int64
	signKey   []byte
	cors      string
}

// New constructs the HTTP API. health may be nil.
func New(files service.FileService, log *zap.Logger, cfg Config, health func(context.Context) error) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		files:     files,
		log:       log,
		health:    health,
		maxUpload: cfg.MaxUploadBytes,
		signKey:   cfg.SignKey,
		cors:      cfg.CORSOrigin,
	}
}

// Handler returns the routed handler wrapped in logging, recovery and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files/upload", s.upload)
	mux.HandleFunc("GET /api/files", s.listAll)
	mux.HandleFunc("GET /api/files/user/{userId}", s.listByUser)
	mux.HandleFunc("GET /api/files/download/{fileId}", s.download)
	mux.HandleFunc("GET /api/files/{fileId}", s.download)
	mux.HandleFunc("DELETE /api/files/{fileId}", s.remove)
	mux.HandleFunc("GET /healthz", s.healthz)

	var h http.Handler = mux
	h = CORS(s.cors)(h)
	h = Recover(s.log)(h)
	h = Logging(s.log)(h)
	return h
}

// fileResponse is the JSON view of a record. Ciphertext never leaves the server.
type fileResponse struct {
	ID          int64  `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	UploadDate  string `json:"uploadDate"`
	DownloadKey string `json:"downloadKey"`
}

func toResponse(f model.StoredFile) fileResponse {
	return fileResponse{
		ID:          f.ID,
		FileName:    f.OriginalFileName,
		ContentType: f.ContentType,
		Size:        f.FileSize,
		UploadDate:  f.UploadedAt.UTC().Format(time.RFC3339Nano),
		DownloadKey: f.DownloadKey,
	}
}

func toResponses(fs []model.StoredFile) []fileResponse {
	out := make([]fileResponse, 0, len(fs))
	for _, f := range fs {
		out = append(out, toResponse(f))
	}
	return out
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "bad multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	owner, err := s.callerID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file")
		return
	}

	rec, err := s.files.Upload(r.Context(), content, hdr.Filename, hdr.Header.Get("Content-Type"), owner)
	if err != nil {
		if errors.Is(err, errs.ErrEmptyPayload) || errors.Is(err, errs.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, "empty file")
			return
		}
		s.log.Error("upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(*rec))
}

func (s *Server) listAll(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, "")
}

func (s *Server) listByUser(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("userId")
	caller, err := s.callerID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if s.hasBearer(r) && caller != owner {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	s.list(w, r, owner)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, owner string) {
	fs, err := s.files.List(r.Context(), owner)
	if err != nil {
		s.log.Error("list", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, toResponses(fs))
}

// download serves decrypted bytes. Authorization failures are 403; every
// other failure, tag verification included, is reported as 404.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	caller, err := s.callerID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	dl, err := s.files.Retrieve(r.Context(), id, r.URL.Query().Get("key"), caller)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrUnauthorized):
			writeError(w, http.StatusForbidden, "forbidden")
		case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrAuthenticationFailure):
			writeError(w, http.StatusNotFound, "not found")
		default:
			s.log.Error("download", zap.Int64("id", id), zap.Error(err))
			writeError(w, http.StatusNotFound, "not found")
		}
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(dl.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Content)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := fileID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	caller, err := s.callerID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	stored, err := s.files.GetDownloadKey(r.Context(), id)
	if err != nil {
		s.writeDeleteError(w, id, err)
		return
	}
	if !crypto.KeysEqual(stored, r.URL.Query().Get("key")) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := s.files.Delete(r.Context(), id, caller); err != nil {
		s.writeDeleteError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeDeleteError(w http.ResponseWriter, id int64, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		s.log.Error("delete", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fileID parses the {fileId} path value. Ids are positive integers.
func fileID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("fileId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// contentDisposition builds an attachment header, dropping characters that
// would break out of the quoted filename.
func contentDisposition(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '\r', '\n':
			return -1
		}
		return r
	}, name)
	return fmt.Sprintf(`attachment; filename="%s"`, clean)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
