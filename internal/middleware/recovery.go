package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/hospital-api/internal/handler"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

// Recovery turns a panic into a logged 500. The panic value only reaches the
// client as error detail outside release mode.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("method", c.Request.Method).
				Str("route", c.FullPath()).
				Str("ip", c.ClientIP()).
				Msg("recovered from panic")

			handler.RespondError(c, apperrors.Internal(fmt.Errorf("panic: %v", rec)))
		}()
		c.Next()
	}
}
