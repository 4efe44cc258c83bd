package middleware

import "github.com/labstack/echo/v4"

// ErrorBody is the JSON error shape of the local proxy. It mirrors the
// backend's "message" field so clients parse both the same way.
type ErrorBody struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(c echo.Context, status int, msg string) error {
	if c.Response().Committed {
		return nil
	}
	rid, _ := c.Get("request_id").(string)
	return c.JSON(status, ErrorBody{Message: msg, RequestID: rid})
}
