package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// fileInfo mirrors the server's JSON view of a stored file.
type fileInfo struct {
	ID          int64  `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	UploadDate  string `json:"uploadDate"`
	DownloadKey string `json:"downloadKey"`
}

// apiError is a non-2xx response from the vault server.
type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("server: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server: %d %s", e.Status, e.Msg)
}

type client struct {
	base  string
	token string
	hc    *http.Client
}

func newClient(base, token string, hc *http.Client) *client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &client{base: strings.TrimRight(base, "/"), token: token, hc: hc}
}

func (c *client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	_ = json.Unmarshal(b, &body)
	return &apiError{Status: resp.StatusCode, Msg: body.Error}
}

// Upload sends content as a multipart "file" part.
func (c *client) Upload(ctx context.Context, name, contentType string, content []byte, user string) (fileInfo, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if user != "" {
		if err := mw.WriteField("userId", user); err != nil {
			return fileInfo{}, err
		}
	}
	part, err := mw.CreatePart(filePartHeader(name, contentType))
	if err != nil {
		return fileInfo{}, err
	}
	if _, err := part.Write(content); err != nil {
		return fileInfo{}, err
	}
	if err := mw.Close(); err != nil {
		return fileInfo{}, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/files/upload", nil, &buf, mw.FormDataContentType())
	if err != nil {
		return fileInfo{}, err
	}
	defer resp.Body.Close()

	var out fileInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fileInfo{}, fmt.Errorf("decode upload response: %w", err)
	}
	return out, nil
}

// List returns summaries, for one user when user is set.
func (c *client) List(ctx context.Context, user string) ([]fileInfo, error) {
	path := "/api/files"
	if user != "" {
		path = "/api/files/user/" + url.PathEscape(user)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []fileInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return out, nil
}

// Download returns the decrypted content and the server-supplied filename.
func (c *client) Download(ctx context.Context, id int64, key, user string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/files/download/"+strconv.FormatInt(id, 10), keyQuery(key, user), nil, "")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return b, filenameFromDisposition(resp.Header.Get("Content-Disposition")), nil
}

// Remove deletes a file.
func (c *client) Remove(ctx context.Context, id int64, key, user string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/files/"+strconv.FormatInt(id, 10), keyQuery(key, user), nil, "")
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func keyQuery(key, user string) url.Values {
	q := url.Values{}
	q.Set("key", key)
	if user != "" {
		q.Set("userId", user)
	}
	return q
}

func filePartHeader(name, contentType string) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func filenameFromDisposition(v string) string {
	if v == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func isStatus(err error, code int) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == code
}
