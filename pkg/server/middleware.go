package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourorg/zkspend/pkg/proof"
)

// fail writes an error response. In debug mode 5xx answers carry the error
// chain in the stack field.
func (s *Server) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	resp := proof.ErrorResponse{Error: err.Error()}
	if s.debug && status >= http.StatusInternalServerError {
		resp.Stack = chain(err)
	}
	c.AbortWithStatusJSON(status, resp)
}

func chain(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%T: %v\n", e, e)
	}
	return b.String()
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				s.log.Error().Interface("panic", r).Bytes("stack", stack).
					Str("path", c.Request.URL.Path).Msg("handler panicked")
				resp := proof.ErrorResponse{Error: fmt.Sprint(r)}
				if s.debug {
					resp.Stack = string(stack)
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()
		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.Request(c.Request.Method, route, status)

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = s.log.Error()
		case status >= 400:
			ev = s.log.Warn()
		default:
			ev = s.log.Info()
		}
		ev = ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Msg("http request")
	}
}
