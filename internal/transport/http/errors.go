package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/core"
	"github.com/vovakirdan/chatline-server/internal/store"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code,omitempty"`
	Report *store.DeleteReport `json:"report,omitempty"`
}

var statusByCode = map[string]int{
	core.ErrCodeBadRequest:         http.StatusBadRequest,
	core.ErrCodeNotFound:           http.StatusNotFound,
	core.ErrCodeForbidden:          http.StatusForbidden,
	core.ErrCodeInvalidState:       http.StatusConflict,
	core.ErrCodePersistenceFailure: http.StatusInternalServerError,
	core.ErrCodePartialFailure:     http.StatusInternalServerError,
	core.ErrCodeDeliveryTimeout:    http.StatusGatewayTimeout,
	core.ErrCodeRateLimited:        http.StatusTooManyRequests,
	core.ErrCodeUnauthorized:       http.StatusUnauthorized,
	core.ErrCodeStorageUnavailable: http.StatusBadGateway,
}

func statusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders err as an ErrorResponse with the matching status.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	ce := core.AsCoreError(err)
	status := statusFor(ce.Code)
	resp := ErrorResponse{Error: ce.Message, Code: ce.Code}

	var partial *store.PartialDeleteError
	if errors.As(err, &partial) {
		report := partial.Report
		resp.Report = &report
	}

	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Str("code", ce.Code).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("path", c.FullPath()).Str("code", ce.Code).Msg("request rejected")
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: core.ErrCodeBadRequest})
}
