package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) RunReconciliation(c *gin.Context) {
	dryRun := c.Query("dry_run") == "true"

	result, err := s.sweep.RunOnce(c.Request.Context(), dryRun)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dry_run":         dryRun,
		"checked":         result.Checked,
		"deleted":         result.Deleted,
		"deactivated":     result.Deactivated,
		"marked_past_due": result.MarkedPastDue,
		"canceled":        result.Canceled,
		"errors":          result.Errors,
	})
}
