package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleHealthz is the unauthenticated liveness probe (§6) — distinct
// from the chat-completions health-check short-circuit, it never touches
// a credential pool.
func handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
