package handlers

import (
	"github.com/gin-gonic/gin"
)

// handleStream upgrades the request to the live push channel and blocks
// until the client disconnects or the idle lifetime elapses.
func (h *Handlers) handleStream(c *gin.Context) {
	user := currentUser(c)
	h.hub.Serve(c, user.ID)
}
