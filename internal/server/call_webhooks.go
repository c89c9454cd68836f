package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	voicedomain "github.com/smallbiznis/warmline/internal/providers/voice/domain"
)

// HandleCallWebhook ingests call status updates from the voice provider. The
// signature is checked against the raw body before anything is interpreted.
func (s *Server) HandleCallWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	signature := strings.TrimSpace(c.GetHeader("X-Vapi-Signature"))
	if err := s.voiceProvider.VerifyWebhook(signature, payload); err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.voiceProvider.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, voicedomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	switch event.Type {
	case voicedomain.EventCallStarted:
		err = s.lifecycleSvc.MarkCallStarted(ctx, event.ProviderCallID)
	case voicedomain.EventCallEnded:
		err = s.lifecycleSvc.EndCallByProviderID(ctx, event.ProviderCallID, event.EndReason, event.DurationSec)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		// Unknown call ids get a 200 so the provider stops retrying a call
		// we will never recognize.
		c.JSON(http.StatusOK, gin.H{"status": "unknown_call"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
