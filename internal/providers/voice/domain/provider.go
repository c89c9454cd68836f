package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrCallRejected     = errors.New("call_rejected")
)

// EndReason is the canonical outcome of a finished call, mapped from
// provider-specific codes.
type EndReason string

const (
	EndReasonCompleted EndReason = "completed"
	EndReasonNoAnswer  EndReason = "no_answer"
	EndReasonBusy      EndReason = "busy"
	EndReasonFailed    EndReason = "failed"
	EndReasonCancelled EndReason = "cancelled"
	// EndReasonTimedOut marks calls force-ended by the stale sweep after the
	// provider never reported an end.
	EndReasonTimedOut EndReason = "timed_out"
)

type EventType string

const (
	EventCallStarted EventType = "call_started"
	EventCallEnded   EventType = "call_ended"
)

type PlaceCallRequest struct {
	BookingID     string
	CustomerName  string
	CustomerPhone string
	PhoneNumberID string
	AssistantID   string
	MaxDuration   time.Duration
}

type PlaceCallResponse struct {
	ProviderCallID string
	Status         string
}

// Event is a provider webhook normalized to warmline's vocabulary.
type Event struct {
	ProviderCallID string
	Type           EventType
	EndReason      EndReason
	DurationSec    int
	OccurredAt     time.Time
}

// CallProvider places outbound calls and interprets the provider's webhooks.
// VerifyWebhook must be called on the raw body before ParseEvent.
type CallProvider interface {
	Provider() string
	PlaceCall(ctx context.Context, req PlaceCallRequest) (*PlaceCallResponse, error)
	VerifyWebhook(signature string, body []byte) error
	ParseEvent(body []byte) (*Event, error)
}
