// Package httputil provides shared HTTP response helpers.
package httputil

import "github.com/gin-gonic/gin"

// RespondError writes a standardized JSON error response and aborts the request.
func RespondError(c *gin.Context, status int, code, message string) {
	RespondErrorDetails(c, status, code, message, nil)
}

// RespondErrorDetails is RespondError with extra top-level fields, such as
// the remaining lockout time. Extra keys never override code, message or
// request_id.
func RespondErrorDetails(c *gin.Context, status int, code, message string, extra map[string]any) {
	resp := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		resp[k] = v
	}

	resp["code"] = code
	resp["message"] = message

	if rid, exists := c.Get("request_id"); exists {
		if s, ok := rid.(string); ok && s != "" {
			resp["request_id"] = s
		}
	}

	c.AbortWithStatusJSON(status, resp)
}
