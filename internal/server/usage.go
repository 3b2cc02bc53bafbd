package server

import (
	"net/http"

	usagedomain "github.com/croftlabs/croft/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

type usageCheckRequest struct {
	Resource string  `json:"resource" binding:"required"`
	Delta    float64 `json:"delta"`
}

// quotaExceededResponse is the user-visible deny: resource, usage, limit,
// and a hint the UI can render directly.
type quotaExceededResponse struct {
	Error struct {
		Type     string  `json:"type"`
		Code     string  `json:"code"`
		Resource string  `json:"resource"`
		Used     float64 `json:"used"`
		Limit    float64 `json:"limit"`
		Hint     string  `json:"hint"`
	} `json:"error"`
}

func (s *Server) CheckUsage(c *gin.Context) {
	tenantID, err := tenantIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req usageCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, usagedomain.ErrUnknownResource)
		return
	}
	delta := req.Delta
	if delta == 0 {
		delta = 1
	}

	decision, err := s.usagesvc.RecordAndCheck(c.Request.Context(), tenantID, req.Resource, delta)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !decision.Allowed {
		var resp quotaExceededResponse
		resp.Error.Type = "quota_exceeded"
		resp.Error.Code = "limit_reached"
		resp.Error.Resource = decision.Resource
		resp.Error.Used = decision.Used
		resp.Error.Limit = decision.Limit.Value()
		resp.Error.Hint = "usage resets at the start of next month, or upgrade your plan for a higher limit"
		c.JSON(http.StatusTooManyRequests, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allowed":  true,
		"resource": decision.Resource,
		"used":     decision.Used,
	})
}

func (s *Server) GetUsage(c *gin.Context) {
	tenantID, err := tenantIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	metrics, err := s.usagesvc.GetOrCreateCurrentPeriod(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"year":           metrics.Year,
		"month":          metrics.Month,
		"eosda_requests": metrics.APICalls,
		"area_ha":        metrics.AreaHa,
		"seats":          metrics.Seats,
		"parcels":        metrics.Parcels,
		"overages":       metrics.Overages,
	})
}
