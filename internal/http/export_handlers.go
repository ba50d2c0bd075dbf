package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) exportTasks(c *gin.Context) {
	user := currentUser(c)
	export, err := h.exports.Export(c.Request.Context(), user.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.WithField("user_id", user.ID).WithField("key", export.Key).Info("tasks exported")
	c.JSON(http.StatusCreated, ExportResponse{
		Location: export.Location,
		Key:      export.Key,
		Count:    export.Count,
	})
}

func (h *Handler) listExports(c *gin.Context) {
	objects, err := h.exports.List(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]ExportObjectResponse, len(objects))
	for i := range objects {
		resp[i] = exportObjectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) clearExports(c *gin.Context) {
	if err := h.exports.Clear(c.Request.Context(), currentUser(c).ID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Exports deleted successfully"})
}
