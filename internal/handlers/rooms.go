package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/etherchat/internal/signaling"
)

// GetRoom reports the live membership of a room. Rooms only exist while
// someone is in them, so an empty room is a 404.
func GetRoom(hub *signaling.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		info, ok, err := hub.Room(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Hub unavailable"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		c.JSON(http.StatusOK, info)
	}
}

// Health reports liveness together with connection and room counts.
func Health(hub *signaling.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conns, rooms, err := hub.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": conns, "rooms": rooms})
	}
}
