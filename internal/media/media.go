package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/vovakirdan/chatline-server/internal/store"
	"github.com/vovakirdan/chatline-server/internal/utils"
)

var (
	// ErrUnsupportedType is returned for files that are neither an allowed image nor video.
	ErrUnsupportedType = errors.New("unsupported media type")
	// ErrTooLarge is returned when the upload exceeds the configured limit.
	ErrTooLarge = errors.New("media too large")
	// ErrUploadFailed wraps failures of the object storage backend.
	ErrUploadFailed = errors.New("media upload failed")
)

var allowedExt = map[string]struct{}{
	".jpeg": {}, ".jpg": {}, ".png": {}, ".gif": {}, ".mp4": {}, ".mov": {},
}

var allowedMIME = map[string]struct{}{
	"image/jpeg": {}, "image/jpg": {}, "image/png": {}, "image/gif": {},
	"video/mp4": {}, "video/quicktime": {},
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Uploader writes an object and returns a durable URL for it.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// Upload is a stored attachment.
type Upload struct {
	URL  string               `json:"url"`
	Kind store.AttachmentKind `json:"kind"`
	Key  string               `json:"key"`
}

// Service validates attachments and hands them to an Uploader.
type Service struct {
	uploader Uploader
	maxBytes int64
}

// NewService creates a media service. maxBytes <= 0 means no limit.
func NewService(uploader Uploader, maxBytes int64) *Service {
	return &Service{uploader: uploader, maxBytes: maxBytes}
}

// MaxBytes returns the configured upload limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Store validates and uploads one file owned by userID.
func (s *Service) Store(ctx context.Context, userID, filename, contentType string, size int64, body io.Reader) (*Upload, error) {
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, s.maxBytes)
	}
	kind, mediaType, err := Classify(filename, contentType)
	if err != nil {
		return nil, err
	}

	key := ObjectKey(userID, filename)
	if s.maxBytes > 0 {
		body = io.LimitReader(body, s.maxBytes)
	}
	url, err := s.uploader.Upload(ctx, key, mediaType, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUploadFailed, key, err)
	}
	return &Upload{URL: url, Kind: kind, Key: key}, nil
}

// Classify checks both the file extension and the declared content type
// and returns the attachment kind with the normalized media type.
func Classify(filename, contentType string) (store.AttachmentKind, string, error) {
	ext := strings.ToLower(path.Ext(filename))
	if _, ok := allowedExt[ext]; !ok {
		return "", "", fmt.Errorf("%w: extension %q", ErrUnsupportedType, ext)
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", "", fmt.Errorf("%w: content type %q", ErrUnsupportedType, contentType)
	}
	mediaType = strings.ToLower(mediaType)
	if _, ok := allowedMIME[mediaType]; !ok {
		return "", "", fmt.Errorf("%w: content type %q", ErrUnsupportedType, mediaType)
	}

	if strings.HasPrefix(mediaType, "image/") {
		return store.AttachmentImage, mediaType, nil
	}
	return store.AttachmentVideo, mediaType, nil
}

// ObjectKey builds a collision-free key: <user>/<uuid>_<name>.
func ObjectKey(userID, filename string) string {
	name := unsafeName.ReplaceAllString(path.Base(strings.ReplaceAll(filename, "\\", "/")), "_")
	owner := unsafeName.ReplaceAllString(userID, "_")
	return owner + "/" + utils.NewID() + "_" + name
}
