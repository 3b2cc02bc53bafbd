package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	paymentdomain "github.com/croftlabs/croft/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

// HandlePaymentWebhook always acks with 200 once the signature checks
// out, even for malformed or not-applicable events, to stop gateway
// retries. Signature failures push back with a non-2xx, and transient
// processing failures return 500 so the gateway redelivers.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	gateway := strings.TrimSpace(c.Param("gateway"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ack, err := s.processor.Handle(c.Request.Context(), gateway, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidPayload) || errors.Is(err, paymentdomain.ErrInvalidEvent) {
			c.JSON(http.StatusOK, paymentdomain.Ack{Status: paymentdomain.AckIgnored})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}
