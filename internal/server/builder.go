package server

import (
	"github.com/gin-gonic/gin"

	"gcli2api-go/internal/middleware"
)

// NewEngine builds the single gin engine serving both the normal and
// antigravity route groups (§9: one engine, two groups, two storage
// namespaces, sharing one pipeline).
func NewEngine(deps *Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestID(), middleware.CORS())
	r.Use(middleware.RateLimit(deps.Config.RateLimit.RequestsPerSecond, deps.Config.RateLimit.Burst))

	r.GET("/healthz", handleHealthz)

	auth := middleware.UnifiedAuth(middleware.AuthConfig{Password: deps.Config.Security.APIPassword})

	v1 := r.Group("/v1")
	v1.Use(auth)
	registerNamespaceRoutes(v1, deps, "")

	anti := r.Group("/antigravity/v1")
	anti.Use(auth)
	registerNamespaceRoutes(anti, deps, "antigravity")

	return r
}

func registerNamespaceRoutes(group *gin.RouterGroup, deps *Deps, namespace string) {
	h := &handler{deps: deps, namespace: namespace}
	group.GET("/models", h.listModels)
	group.POST("/chat/completions", h.chatCompletions)
}
