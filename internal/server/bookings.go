package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	calleventdomain "github.com/smallbiznis/warmline/internal/callevent/domain"
	paymentdomain "github.com/smallbiznis/warmline/internal/payment/domain"
	"github.com/smallbiznis/warmline/internal/ratelimit"
)

type createBookingRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`
	PlanType      string `json:"plan_type"`
}

func (s *Server) CreateBooking(c *gin.Context) {
	if !s.allowRate(c, "booking_create") {
		return
	}

	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.bookingSvc.Create(c.Request.Context(), bookingdomain.CreateBookingRequest{
		Name:     req.CustomerName,
		Phone:    req.CustomerPhone,
		Email:    req.CustomerEmail,
		PlanType: req.PlanType,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if resp.PaymentRequired {
		resp.Invoice = s.openInvoice(c, resp)
	}

	c.JSON(http.StatusCreated, resp)
}

// openInvoice asks the default payment provider for a checkout covering the
// booking. A provider outage degrades the response rather than failing the
// booking: the amount and deadline are still returned and any enabled
// provider's webhook can settle it.
func (s *Server) openInvoice(c *gin.Context, resp bookingdomain.CreateBookingResponse) *paymentdomain.Invoice {
	if s.invoiceSvc == nil {
		return nil
	}

	inv, err := s.invoiceSvc.CreateInvoice(c.Request.Context(), paymentdomain.CreateInvoiceRequest{
		BookingID:     resp.Booking.ID,
		AmountCents:   resp.AmountCents,
		Currency:      resp.Currency,
		Description:   "warmline " + resp.Booking.PlanType + " call",
		CustomerEmail: resp.Booking.CustomerEmail,
		ExpiresAt:     resp.PaymentDeadline,
	})
	if err != nil {
		return nil
	}
	if s.events != nil {
		s.events.Record(c.Request.Context(), resp.Booking.ID, calleventdomain.TypeInvoiceCreated, map[string]any{
			"provider":            inv.Provider,
			"provider_invoice_id": inv.ProviderInvoiceID,
		})
	}
	return inv
}

func (s *Server) BookingStatus(c *gin.Context) {
	id, err := parseBookingID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("booking_id", id.String())

	status, err := s.bookingSvc.Status(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

type trialCheckRequest struct {
	CustomerPhone string `json:"customer_phone"`
}

func (s *Server) CheckTrialEligibility(c *gin.Context) {
	var req trialCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	eligible, err := s.trialSvc.Eligible(c.Request.Context(), req.CustomerPhone)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"eligible": eligible})
}

func parseBookingID(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("id"))
	if raw == "" {
		return 0, newValidationError("id", "invalid_id", "booking id is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError("id", "invalid_id", "booking id is not valid")
	}
	return id, nil
}

// allowRate applies the per-IP bucket for the named public endpoint. A redis
// outage fails open.
func (s *Server) allowRate(c *gin.Context, endpoint string) bool {
	if !s.limiter.Enabled() {
		return true
	}

	var (
		res *ratelimit.RateLimitResult
		err error
	)
	switch endpoint {
	case "booking_create":
		res, err = s.limiter.AllowBookingCreate(c.Request.Context(), c.ClientIP())
	case "call_initiate":
		res, err = s.limiter.AllowInitiateIP(c.Request.Context(), c.ClientIP())
	default:
		return true
	}
	if err != nil || res == nil {
		return true
	}
	if !res.Allowed {
		s.recordRateLimited(c, endpoint, "ip")
		c.Header("Retry-After", retryAfterValue(res.RetryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return false
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), endpoint)
	}
	return true
}

func retryAfterValue(d time.Duration) string {
	return strconv.Itoa(ratelimit.RetryAfterSeconds(d))
}

func (s *Server) recordRateLimited(c *gin.Context, endpoint, reason string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), endpoint, reason)
	}
}
