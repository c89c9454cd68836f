package plan

import (
	"errors"
	"strings"
	"time"
)

type Type string

const (
	TypeFreeTrial Type = "free_trial"
	TypeStandard  Type = "standard"
	TypeExtended  Type = "extended"
	TypePremium   Type = "premium"
)

var ErrUnknownPlan = errors.New("unknown_plan")

// Plan is immutable reference data describing a bookable call product.
// AmountCents is the expected payment in USD cents; Priority orders the call
// queue (lower drains first, paid plans outrank trials).
type Plan struct {
	Type         Type
	AmountCents  int64
	Currency     string
	CallDuration time.Duration
	Priority     int
	Trial        bool
}

var catalog = map[Type]Plan{
	TypePremium: {
		Type:         TypePremium,
		AmountCents:  7500,
		Currency:     "usd",
		CallDuration: 60 * time.Minute,
		Priority:     1,
	},
	TypeExtended: {
		Type:         TypeExtended,
		AmountCents:  4500,
		Currency:     "usd",
		CallDuration: 30 * time.Minute,
		Priority:     2,
	},
	TypeStandard: {
		Type:         TypeStandard,
		AmountCents:  2500,
		Currency:     "usd",
		CallDuration: 15 * time.Minute,
		Priority:     3,
	},
	TypeFreeTrial: {
		Type:         TypeFreeTrial,
		AmountCents:  0,
		Currency:     "usd",
		CallDuration: 3 * time.Minute,
		Priority:     9,
		Trial:        true,
	},
}

// Lookup resolves a plan by its key.
func Lookup(value string) (Plan, error) {
	key := Type(strings.ToLower(strings.TrimSpace(value)))
	p, ok := catalog[key]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// All returns every plan, paid plans first.
func All() []Plan {
	return []Plan{
		catalog[TypePremium],
		catalog[TypeExtended],
		catalog[TypeStandard],
		catalog[TypeFreeTrial],
	}
}

// RequiresPayment reports whether the plan needs a completed payment before
// the booking may queue.
func (p Plan) RequiresPayment() bool {
	return p.AmountCents > 0
}
