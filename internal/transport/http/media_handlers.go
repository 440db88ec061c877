package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/media"
)

const mediaField = "media"

// MediaHandlers accepts attachment uploads.
type MediaHandlers struct {
	media *media.Service
	log   *zerolog.Logger
}

// NewMediaHandlers creates media handlers. A nil service disables uploads.
func NewMediaHandlers(svc *media.Service, logger *zerolog.Logger) *MediaHandlers {
	return &MediaHandlers{media: svc, log: logger}
}

// Upload stores a multipart file and returns its URL and kind.
// POST /api/media
func (h *MediaHandlers) Upload(c *gin.Context) {
	if h.media == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "media uploads are not configured"})
		return
	}

	if limit := h.media.MaxBytes(); limit > 0 {
		// Leave room for the multipart envelope.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)
	}

	fh, err := c.FormFile(mediaField)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large", Code: core.ErrCodeBadRequest})
			return
		}
		badRequest(c, "media file is required")
		return
	}

	file, err := fh.Open()
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	defer file.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		buf := make([]byte, 512)
		n, _ := file.Read(buf)
		contentType = http.DetectContentType(buf[:n])
		if _, err := file.Seek(0, 0); err != nil {
			writeError(c, h.log, err)
			return
		}
	}

	up, err := h.media.Store(c.Request.Context(), currentUser(c), fh.Filename, contentType, fh.Size, file)
	switch {
	case errors.Is(err, media.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error(), Code: core.ErrCodeBadRequest})
		return
	case errors.Is(err, media.ErrUnsupportedType):
		badRequest(c, err.Error())
		return
	case errors.Is(err, media.ErrUploadFailed):
		writeError(c, h.log, &core.CoreError{Code: core.ErrCodeStorageUnavailable, Message: "media storage unavailable", Err: err})
		return
	case err != nil:
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("user_id", currentUser(c)).Str("key", up.Key).Str("kind", string(up.Kind)).Msg("media uploaded")
	c.JSON(http.StatusCreated, gin.H{"url": up.URL, "kind": up.Kind})
}
