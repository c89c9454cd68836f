package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) MaintenanceDrainQueue(c *gin.Context) {
	report, err := s.dispatchSvc.DrainQueue(c.Request.Context(), 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": report.Dispatched,
		"errors":    report.Errors,
		"claimed":   report.Claimed,
		"requeued":  report.Requeued,
		"exhausted": report.Exhausted,
	})
}

func (s *Server) MaintenanceSweepCalls(c *gin.Context) {
	report, err := s.lifecycleSvc.SweepStaleCalls(c.Request.Context(), 100)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": report.Reclaimed,
		"errors":    report.Errors,
		"scanned":   report.Scanned,
	})
}

func (s *Server) MaintenanceExpirePayments(c *gin.Context) {
	expired, err := s.bookingSvc.ExpirePendingPayments(c.Request.Context(), 100)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": len(expired),
		"errors":    0,
	})
}
