package fanout

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the hub's upgrade endpoint and a liveness probe, per
// §6's external interface table. Kept deliberately small: the fan-out
// surface has no authenticated routes, unlike the teacher's API router.
func NewRouter(h *Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/stream", func(c *gin.Context) {
		h.Subscribe(c.Writer, c.Request)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.ClientCount()})
	})

	return r
}
