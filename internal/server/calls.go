package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/warmline/internal/plan"
)

type checkConcurrencyRequest struct {
	PlanType string `json:"plan_type"`
}

// CheckConcurrency reports whether a call would dispatch right now. When every
// slot is busy the response carries the position a new booking would take.
func (s *Server) CheckConcurrency(c *gin.Context) {
	var req checkConcurrencyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if planType := strings.TrimSpace(req.PlanType); planType != "" {
		if _, err := plan.Lookup(planType); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	snapshot, err := s.capacitySvc.Snapshot(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{
		"can_make_call": snapshot.HasCapacity(),
		"current_calls": snapshot.CurrentCalls,
		"max_calls":     snapshot.MaxCalls,
	}
	if !snapshot.HasCapacity() {
		depth, err := s.queueSvc.QueuedCount(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		resp["queue_position"] = depth + 1
	}
	c.JSON(http.StatusOK, resp)
}

type initiateCallRequest struct {
	BookingID string `json:"booking_id"`
}

func (s *Server) InitiateCall(c *gin.Context) {
	if !s.allowRate(c, "call_initiate") {
		return
	}

	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	raw := strings.TrimSpace(req.BookingID)
	if raw == "" {
		AbortWithError(c, newValidationError("booking_id", "invalid_id", "booking id is required"))
		return
	}
	bookingID, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, newValidationError("booking_id", "invalid_id", "booking id is not valid"))
		return
	}
	c.Set("booking_id", bookingID.String())

	result, err := s.dispatchSvc.InitiateCall(c.Request.Context(), bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.Dispatched {
		c.JSON(http.StatusOK, gin.H{
			"status":           "calling",
			"provider_call_id": result.ProviderCallID,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":         "queued",
		"queue_position": result.QueuePosition,
	})
}
