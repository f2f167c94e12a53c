package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID is stored.
	RequestIDKey = "request_id"

	// maxRequestIDLength caps inbound identifiers so a hostile client cannot
	// inflate every structured log line and audit record with an arbitrarily
	// long header value.
	maxRequestIDLength = 128
)

// RequestIDMiddleware ensures every request carries a unique identifier.
//
// An inbound X-Request-ID (from a load balancer or gateway) is reused as long
// as it fits maxRequestIDLength; otherwise a fresh UUID v4 is generated. The
// ID is stored in gin.Context under RequestIDKey and echoed in the response
// header so callers can quote it when reporting a problem. Register this
// before the logging middleware so every log line carries the ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
