package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/warmline/internal/payment/domain"
)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	s.ingestPaymentWebhook(c, provider, payload)
}

// HandleBlockonomicsCallback adapts the GET-with-query-parameters callback to
// the common ingest path: the query string is the payload.
func (s *Server) HandleBlockonomicsCallback(c *gin.Context) {
	s.ingestPaymentWebhook(c, "blockonomics", []byte(c.Request.URL.RawQuery))
}

func (s *Server) ingestPaymentWebhook(c *gin.Context, provider string, payload []byte) {
	err := s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
