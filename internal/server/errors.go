package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/vfrelay/internal/voiceflow"
)

// ErrorResponse is the body of every primary-path failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// upstreamFailure answers 500 with the upstream detail attached.
func upstreamFailure(c echo.Context, msg string, err error) error {
	var details any = err.Error()
	var upErr *voiceflow.UpstreamError
	if errors.As(err, &upErr) {
		details = upErr.Details()
	}
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg, Details: details})
}
