package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	voicedomain "github.com/smallbiznis/warmline/internal/providers/voice/domain"
)

var ErrUnknownCall = errors.New("unknown_call")

// SweepReport summarizes one stale-call sweep pass.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Reclaimed int `json:"reclaimed"`
	Errors    int `json:"errors"`
}

type Service interface {
	// EndCall tears down a live call exactly once: the active-call row delete
	// is the gate, losers are a no-op. Returns true when this caller performed
	// the teardown. Frees the capacity slot, finalizes the booking, and drains
	// the queue into the freed slot.
	EndCall(ctx context.Context, bookingID snowflake.ID, reason voicedomain.EndReason, durationSec int) (bool, error)

	// EndCallByProviderID resolves the provider's call id to a booking first.
	EndCallByProviderID(ctx context.Context, providerCallID string, reason voicedomain.EndReason, durationSec int) error

	// MarkCallStarted confirms the call connected.
	MarkCallStarted(ctx context.Context, providerCallID string) error

	// SweepStaleCalls reclaims calls whose end webhook never arrived.
	SweepStaleCalls(ctx context.Context, limit int) (*SweepReport, error)
}
