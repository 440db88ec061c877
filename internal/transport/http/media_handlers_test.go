package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"

	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/media"
)

type memoryUploader struct {
	keys []string
}

func (m *memoryUploader) Upload(_ context.Context, key, _ string, body io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	m.keys = append(m.keys, key)
	return "https://cdn.test/" + key, nil
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unreachable")
}

func uploadRequest(t *testing.T, env *testEnv, token, filename, contentType string, data []byte) (int, []byte) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="media"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/media", &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestMediaUploadDisabledWithoutBucket(t *testing.T) {
	env := newTestEnv(t)
	status, _ := uploadRequest(t, env, env.token(t, "alice"), "a.png", "image/png", []byte("x"))
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestMediaUpload(t *testing.T) {
	up := &memoryUploader{}
	env := newTestEnv(t, withMedia(media.NewService(up, 1024)))
	token := env.token(t, "alice")

	status, body := uploadRequest(t, env, token, "photo.png", "image/png", []byte("not really a png"))
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var resp struct {
		URL  string `json:"url"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != "image" || len(up.keys) != 1 || resp.URL != "https://cdn.test/"+up.keys[0] {
		t.Fatalf("unexpected upload response %+v (keys %v)", resp, up.keys)
	}

	status, _ = uploadRequest(t, env, token, "notes.txt", "text/plain", []byte("hello"))
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported type, got %d", status)
	}

	status, _ = uploadRequest(t, env, token, "big.mp4", "video/mp4", make([]byte, 2048))
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized file, got %d", status)
	}
}

func TestMediaUploadStorageFailure(t *testing.T) {
	env := newTestEnv(t, withMedia(media.NewService(failingUploader{}, 1024)))

	status, body := uploadRequest(t, env, env.token(t, "alice"), "photo.png", "image/png", []byte("png"))
	if status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", status, body)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != core.ErrCodeStorageUnavailable {
		t.Fatalf("expected code %q, got %q", core.ErrCodeStorageUnavailable, resp.Code)
	}
}
