package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/warmline/pkg/db/pagination"
)

func (s *Server) AdminCapacity(c *gin.Context) {
	snapshot, err := s.capacitySvc.Snapshot(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	queued, err := s.queueSvc.QueuedCount(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts":      snapshot.Accounts,
		"current_calls": snapshot.CurrentCalls,
		"max_calls":     snapshot.MaxCalls,
		"queued":        queued,
	})
}

func (s *Server) AdminBookingEvents(c *gin.Context) {
	id, err := parseBookingID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	page := pagination.Pagination{
		PageSize:  intQuery(c, "page_size", 50),
		PageToken: c.Query("page_token"),
	}
	events, err := s.events.ListByBookingID(c.Request.Context(), id, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return def
	}
	return value
}
