package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apperrors "gcli2api-go/internal/errors"
	"gcli2api-go/internal/httpformat"
)

// Recovery turns a panic in any downstream handler into a 500 error
// envelope instead of tearing down the connection, logging the recovered
// value with the request id for correlation.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"request_id": c.GetString("request_id"),
					"panic":      fmt.Sprintf("%v", r),
					"path":       c.Request.URL.Path,
				}).Error("recovered from panic")

				format := httpformat.DetectFromContext(c)
				body, err := apperrors.New(http.StatusInternalServerError, "internal_error", "server_error", "internal server error").ToJSON(format)
				if err != nil {
					c.AbortWithStatus(http.StatusInternalServerError)
					return
				}
				c.Data(http.StatusInternalServerError, "application/json", body)
				c.Abort()
			}
		}()
		c.Next()
	}
}
