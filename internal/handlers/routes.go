package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/etherchat/internal/signaling"
)

// NewRouter wires every HTTP and websocket endpoint onto a gin engine.
func NewRouter(hub *signaling.Hub, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(allowedOrigins))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "EtherChat signaling server is running")
	})
	router.GET("/health", Health(hub))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms/:roomId", GetRoom(hub))
	}

	// WebSocket signaling endpoint
	router.GET("/ws", HandleSignaling(hub))

	return router
}
