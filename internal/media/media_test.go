package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/vovakirdan/chatline-server/internal/store"
)

type memoryUploader struct {
	key         string
	contentType string
	body        []byte
}

func (m *memoryUploader) Upload(_ context.Context, key, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.key, m.contentType, m.body = key, contentType, data
	return "https://cdn.test/" + key, nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		kind        store.AttachmentKind
		wantErr     bool
	}{
		{name: "png", filename: "cat.PNG", contentType: "image/png", kind: store.AttachmentImage},
		{name: "jpeg with params", filename: "a.jpeg", contentType: "image/jpeg; charset=binary", kind: store.AttachmentImage},
		{name: "mov", filename: "clip.mov", contentType: "video/quicktime", kind: store.AttachmentVideo},
		{name: "mp4", filename: "clip.mp4", contentType: "video/mp4", kind: store.AttachmentVideo},
		{name: "pdf", filename: "doc.pdf", contentType: "application/pdf", wantErr: true},
		{name: "extension spoof", filename: "evil.png", contentType: "text/html", wantErr: true},
		{name: "type spoof", filename: "evil.exe", contentType: "image/png", wantErr: true},
		{name: "no type", filename: "cat.png", contentType: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _, err := Classify(tt.filename, tt.contentType)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedType) {
					t.Fatalf("expected ErrUnsupportedType, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if kind != tt.kind {
				t.Fatalf("expected kind %s, got %s", tt.kind, kind)
			}
		})
	}
}

func TestStoreUploadsUnderUserPrefix(t *testing.T) {
	up := &memoryUploader{}
	svc := NewService(up, 1024)

	res, err := svc.Store(context.Background(), "user-1", "../../my cat.png", "image/png", 5, bytes.NewReader([]byte("hello")))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if res.Kind != store.AttachmentImage {
		t.Fatalf("unexpected kind %s", res.Kind)
	}
	if !strings.HasPrefix(up.key, "user-1/") || !strings.HasSuffix(up.key, "_my_cat.png") {
		t.Fatalf("unexpected key %q", up.key)
	}
	if res.URL != "https://cdn.test/"+up.key || string(up.body) != "hello" || up.contentType != "image/png" {
		t.Fatalf("unexpected upload: %+v / %+v", res, up)
	}
}

func TestStoreRejectsOversizedFiles(t *testing.T) {
	svc := NewService(&memoryUploader{}, 4)

	_, err := svc.Store(context.Background(), "u", "a.png", "image/png", 10, bytes.NewReader(make([]byte, 10)))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestPublicURL(t *testing.T) {
	key := "u/id_a b.png"
	cases := map[string]struct {
		opts S3Options
		want string
	}{
		"cdn":   {S3Options{Bucket: "b", PublicBaseURL: "https://cdn.example/"}, "https://cdn.example/u/id_a%20b.png"},
		"minio": {S3Options{Bucket: "b", Endpoint: "http://localhost:9000"}, "http://localhost:9000/b/u/id_a%20b.png"},
		"aws":   {S3Options{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com/u/id_a%20b.png"},
	}
	for name, tc := range cases {
		if got := PublicURL(tc.opts, key); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", name, tc.want, got)
		}
	}
}
