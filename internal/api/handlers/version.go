package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// VersionHandler reports build information.
type VersionHandler struct {
	version   string
	commit    string
	buildDate string
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(version, commit, buildDate string) *VersionHandler {
	return &VersionHandler{
		version:   version,
		commit:    commit,
		buildDate: buildDate,
	}
}

// RegisterPublicRoutes registers the version endpoint on the engine root.
func (h *VersionHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/version", h.Get)
}

// Get returns build version information.
// GET /version
func (h *VersionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    h.version,
		"commit":     h.commit,
		"build_date": h.buildDate,
	})
}
