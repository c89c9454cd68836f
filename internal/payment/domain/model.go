package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is the dedup ledger for provider webhooks. The unique index on
// (provider, provider_event_id) makes a replayed delivery collide; the tx ref
// guards against the same underlying payment arriving under two event ids.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:idx_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:idx_payment_events_provider_event"`
	ProviderTxRef   string         `json:"provider_tx_ref" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	BookingID       snowflake.ID   `json:"booking_id" gorm:"not null;index"`
	Amount          int64          `json:"amount" gorm:"not null"`
	Currency        string         `json:"currency" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	// ProviderTxRef identifies the underlying payment (intent, transaction
	// hash) independent of the webhook delivery.
	ProviderTxRef string
	Type          string
	BookingID     snowflake.ID
	Amount        int64
	Currency      string
	OccurredAt    time.Time
	RawPayload    []byte
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidBookingRef     = errors.New("invalid_booking_ref")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidConfig         = errors.New("invalid_provider_config")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrTxRefAlreadyApplied   = errors.New("tx_ref_already_applied")
)

type AdapterConfig struct {
	Config map[string]any
}

// CreateInvoiceRequest asks a provider for a payable checkout covering one
// booking.
type CreateInvoiceRequest struct {
	BookingID     snowflake.ID
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
	ExpiresAt     *time.Time
}

// Invoice is the customer-facing payment instruction returned at booking
// creation.
type Invoice struct {
	Provider          string `json:"provider"`
	ProviderInvoiceID string `json:"provider_invoice_id"`
	PaymentURL        string `json:"payment_url,omitempty"`
	// Address is set by on-chain providers that take a direct transfer
	// instead of hosting a checkout page.
	Address     string     `json:"address,omitempty"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// PaymentAdapter is one provider's capability surface: webhook verification
// and parsing plus invoice creation. Verify must be called on the raw payload
// before Parse.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
}

// InvoiceIssuer creates payment instructions with the configured default
// provider.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

type Repository interface {
	// InsertEvent returns false when the (provider, provider_event_id) pair
	// already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error

	// SucceededTxRefApplied reports whether another processed success event
	// already carries this provider tx ref.
	SucceededTxRefApplied(ctx context.Context, db *gorm.DB, provider string, txRef string, excludeID snowflake.ID) (bool, error)
}
