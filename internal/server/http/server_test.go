package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/file-vault/internal/crypto"
	"github.com/and161185/file-vault/internal/errs"
	"github.com/and161185/file-vault/internal/model"
	"github.com/and161185/file-vault/internal/repository/bolt"
	"github.com/and161185/file-vault/internal/service"
)

/************ helpers ************/

func newHandler(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	repo, err := bolt.Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	eng, err := crypto.NewEngine([]byte("test-secret"), crypto.KDFPad)
	require.NoError(t, err)

	svc := service.NewFileService(repo, eng)
	return New(svc, zaptest.NewLogger(t), cfg, repo.Ping).Handler()
}

// uploadBody builds a multipart body with a "file" part and optional fields.
func uploadBody(t *testing.T, filename, contentType string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doUpload(t *testing.T, h http.Handler, filename, contentType string, content []byte, fields map[string]string, bearer string) fileResponse {
	t.Helper()
	body, ct := uploadBody(t, filename, contentType, content, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", ct)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out fileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func get(h http.Handler, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return serve(h, req)
}

func del(h http.Handler, target string) *httptest.ResponseRecorder {
	return serve(h, httptest.NewRequest(http.MethodDelete, target, nil))
}

func jwtFor(t *testing.T, sub string, key []byte, ttl time.Duration) string {
	t.Helper()
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

/************ end to end ************/

func TestServer_E2E_UploadDownloadDelete(t *testing.T) {
	t.Parallel()
	h := newHandler(t, Config{})

	up := doUpload(t, h, "a.txt", "text/plain", []byte("HelloWorld"), nil, "")
	assert.Positive(t, up.ID)
	assert.Equal(t, "a.txt", up.FileName)
	assert.Equal(t, "text/plain", up.ContentType)
	assert.EqualValues(t, 10, up.Size)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, up.DownloadKey)
	_, err := time.Parse(time.RFC3339Nano, up.UploadDate)
	require.NoError(t, err)

	for _, route := range []string{"/api/files/download/%d?key=%s", "/api/files/%d?key=%s"} {
		rec := get(h, fmt.Sprintf(route, up.ID, up.DownloadKey), "")
		require.Equal(t, http.StatusOK, rec.Code, route)
		assert.Equal(t, "HelloWorld", rec.Body.String())
		assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="a.txt"`, rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	}

	rec := get(h, fmt.Sprintf("/api/files/%d?key=WRONGK", up.ID), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = get(h, fmt.Sprintf("/api/files/%d", up.ID), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = del(h, fmt.Sprintf("/api/files/%d?key=WRONGK", up.ID))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = get(h, fmt.Sprintf("/api/files/%d?key=%s", up.ID, up.DownloadKey), "")
	assert.Equal(t, http.StatusOK, rec.Code, "failed delete must keep the record")

	rec = del(h, fmt.Sprintf("/api/files/%d?key=%s", up.ID, up.DownloadKey))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(h, fmt.Sprintf("/api/files/%d?key=%s", up.ID, up.DownloadKey), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = del(h, fmt.Sprintf("/api/files/%d?key=%s", up.ID, up.DownloadKey))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_List(t *testing.T) {
	t.Parallel()
	h := newHandler(t, Config{})

	rec := get(h, "/api/files", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	first := doUpload(t, h, "one.bin", "", []byte{1}, map[string]string{"userId": "alice"}, "")
	second := doUpload(t, h, "two.bin", "", []byte{2, 2}, nil, "")

	rec = get(h, "/api/files", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "ciphertext")
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "nonce")

	var all []fileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)
	ids := []int64{all[0].ID, all[1].ID}
	assert.ElementsMatch(t, []int64{first.ID, second.ID}, ids)
	assert.Equal(t, service.DefaultContentType, all[0].ContentType)

	rec = get(h, "/api/files/user/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []fileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].ID)
	assert.Equal(t, first.DownloadKey, mine[0].DownloadKey)

	rec = get(h, "/api/files/user/bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_OwnerBinding(t *testing.T) {
	t.Parallel()
	h := newHandler(t, Config{})

	up := doUpload(t, h, "secret.txt", "text/plain", []byte("s3cr3t"), map[string]string{"userId": "alice"}, "")

	rec := get(h, fmt.Sprintf("/api/files/%d?key=%s&userId=bob", up.ID, up.DownloadKey), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = get(h, fmt.Sprintf("/api/files/%d?key=%s", up.ID, up.DownloadKey), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = get(h, fmt.Sprintf("/api/files/%d?key=%s&userId=alice", up.ID, up.DownloadKey), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = del(h, fmt.Sprintf("/api/files/%d?key=%s&userId=bob", up.ID, up.DownloadKey))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = del(h, fmt.Sprintf("/api/files/%d?key=%s&userId=alice", up.ID, up.DownloadKey))
	assert.Equal(t, http.StatusOK, rec.Code)
}

/************ upload validation ************/

func TestServer_Upload_Rejects(t *testing.T) {
	t.Parallel()
	h := newHandler(t, Config{MaxUploadBytes: 1024})

	t.Run("empty file", func(t *testing.T) {
		body, ct := uploadBody(t, "empty.txt", "text/plain", nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := serve(h, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `"error"`)
	})

	t.Run("missing file part", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("userId", "alice"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", strings.NewReader("raw"))
		req.Header.Set("Content-Type", "text/plain")
		assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)
	})

	t.Run("too large", func(t *testing.T) {
		body, ct := uploadBody(t, "big.bin", "", bytes.Repeat([]byte{7}, 4096), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusRequestEntityTooLarge, serve(h, req).Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := get(h, "/api/files/upload", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_BadIDsAreNotFound(t *testing.T) {
	t.Parallel()
	h := newHandler(t, Config{})

	for _, target := range []string{"/api/files/abc?key=X", "/api/files/download/0?key=X", "/api/files/-4?key=X", "/api/files/999?key=X"} {
		assert.Equal(t, http.StatusNotFound, get(h, target, "").Code, target)
	}
	assert.Equal(t, http.StatusNotFound, del(h, "/api/files/xyz?key=X").Code)
	assert.Equal(t, http.StatusNotFound, del(h, "/api/files/999?key=X").Code)
}

/************ error mapping ************/

type stubFiles struct {
	uploadErr, retrieveErr, keyErr, listErr, deleteErr error
	key                                                string
}

func (s *stubFiles) Upload(context.Context, []byte, string, string, string) (*model.StoredFile, error) {
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return &model.StoredFile{ID: 1}, nil
}
func (s *stubFiles) Retrieve(context.Context, int64, string, string) (*model.Download, error) {
	if s.retrieveErr != nil {
		return nil, s.retrieveErr
	}
	return &model.Download{Content: []byte("x"), FileName: "x", ContentType: "text/plain"}, nil
}
func (s *stubFiles) GetDownloadKey(context.Context, int64) (string, error) { return s.key, s.keyErr }
func (s *stubFiles) List(context.Context, string) ([]model.StoredFile, error) {
	return nil, s.listErr
}
func (s *stubFiles) Delete(context.Context, int64, string) error { return s.deleteErr }

var _ service.FileService = (*stubFiles)(nil)

func TestServer_DownloadErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		code int
	}{
		{errs.ErrUnauthorized, http.StatusForbidden},
		{errs.ErrNotFound, http.StatusNotFound},
		{errs.ErrAuthenticationFailure, http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusNotFound},
	}
	for _, tc := range cases {
		h := New(&stubFiles{retrieveErr: tc.err}, zaptest.NewLogger(t), Config{}, nil).Handler()
		assert.Equal(t, tc.code, get(h, "/api/files/1?key=K", "").Code, tc.err.Error())
	}
}

func TestServer_DeleteErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		stub *stubFiles
		code int
	}{
		{"lookup not found", &stubFiles{keyErr: errs.ErrNotFound}, http.StatusNotFound},
		{"lookup failure", &stubFiles{keyErr: errors.New("db down")}, http.StatusInternalServerError},
		{"key mismatch", &stubFiles{key: "OTHER1"}, http.StatusForbidden},
		{"owner mismatch", &stubFiles{key: "K", deleteErr: errs.ErrUnauthorized}, http.StatusForbidden},
		{"raced delete", &stubFiles{key: "K", deleteErr: errs.ErrNotFound}, http.StatusNotFound},
		{"delete failure", &stubFiles{key: "K", deleteErr: errors.New("db down")}, http.StatusInternalServerError},
		{"ok", &stubFiles{key: "K"}, http.StatusOK},
	}
	for _, tc := range cases {
		h := New(tc.stub, zaptest.NewLogger(t), Config{}, nil).Handler()
		assert.Equal(t, tc.code, del(h, "/api/files/1?key=K").Code, tc.name)
	}
}

func TestServer_UploadAndListFailuresAre500(t *testing.T) {
	t.Parallel()
	h := New(&stubFiles{uploadErr: errors.New("boom"), listErr: errors.New("boom")}, zaptest.NewLogger(t), Config{}, nil).Handler()

	body, ct := uploadBody(t, "a.txt", "", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusInternalServerError, serve(h, req).Code)

	assert.Equal(t, http.StatusInternalServerError, get(h, "/api/files", "").Code)
	assert.Equal(t, http.StatusInternalServerError, get(h, "/api/files/user/u", "").Code)
}

/************ bearer identity ************/

func TestServer_BearerIdentity(t *testing.T) {
	t.Parallel()
	key := []byte("jwt-test-key")
	h := newHandler(t, Config{SignKey: key})

	alice := jwtFor(t, "alice", key, time.Minute)
	bob := jwtFor(t, "bob", key, time.Minute)

	// the token subject wins over a userId form field
	up := doUpload(t, h, "a.txt", "text/plain", []byte("hi"), map[string]string{"userId": "mallory"}, alice)

	target := fmt.Sprintf("/api/files/%d?key=%s", up.ID, up.DownloadKey)
	assert.Equal(t, http.StatusForbidden, get(h, target, bob).Code)
	assert.Equal(t, http.StatusForbidden, get(h, target+"&userId=mallory", "").Code)
	assert.Equal(t, http.StatusOK, get(h, target, alice).Code)

	assert.Equal(t, http.StatusOK, get(h, "/api/files/user/alice", alice).Code)
	assert.Equal(t, http.StatusForbidden, get(h, "/api/files/user/alice", bob).Code)

	assert.Equal(t, http.StatusUnauthorized, get(h, target, "not-a-jwt").Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, target, jwtFor(t, "alice", []byte("other-key"), time.Minute)).Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, target, jwtFor(t, "alice", key, -time.Hour)).Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, target, jwtFor(t, "", key, time.Minute)).Code)
}

func TestServer_BearerIgnoredWithoutSignKey(t *testing.T) {
	t.Parallel()
	h := newHandler(t, Config{})

	up := doUpload(t, h, "a.txt", "", []byte("hi"), map[string]string{"userId": "alice"}, "garbage")
	target := fmt.Sprintf("/api/files/%d?key=%s&userId=alice", up.ID, up.DownloadKey)
	assert.Equal(t, http.StatusOK, get(h, target, "garbage").Code)
}

/************ misc ************/

func TestServer_Healthz(t *testing.T) {
	t.Parallel()
	ok := New(&stubFiles{}, zaptest.NewLogger(t), Config{}, func(context.Context) error { return nil }).Handler()
	rec := get(ok, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := New(&stubFiles{}, zaptest.NewLogger(t), Config{}, func(context.Context) error { return errors.New("db gone") }).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(down, "/healthz", "").Code)
}

func TestContentDisposition(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `attachment; filename="a.txt"`, contentDisposition("a.txt"))
	assert.Equal(t, `attachment; filename="evil.txtx-injected: 1"`, contentDisposition("evil\".txt\r\nx-injected: 1"))
	assert.Equal(t, `attachment; filename="отчёт.pdf"`, contentDisposition("отчёт.pdf"))
}
