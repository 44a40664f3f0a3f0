package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/routilux/routilux-go/internal/httpapi/response"
)

// Health reports liveness only; it intentionally does not reach into the
// runtime's registries, matching the teacher's shallow /healthz.
func Health(c *gin.Context) {
	response.RespondOK(c, gin.H{"status": "ok"})
}
