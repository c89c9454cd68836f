package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/warmline/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	apiKey, _ := readString(cfg.Config, "api_key")
	baseURL, _ := readString(cfg.Config, "base_url")
	successURL, _ := readString(cfg.Config, "success_url")
	cancelURL, _ := readString(cfg.Config, "cancel_url")
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.stripe.com"
	}

	return &Adapter{
		webhookSecret: secret,
		apiKey:        strings.TrimSpace(apiKey),
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		successURL:    strings.TrimSpace(successURL),
		cancelURL:     strings.TrimSpace(cancelURL),
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type Adapter struct {
	webhookSecret string
	apiKey        string
	baseURL       string
	successURL    string
	cancelURL     string
	httpClient    *http.Client
}

type checkoutSession struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// CreateInvoice opens a hosted checkout session. The booking id rides on both
// the session and the payment intent metadata so the webhook can route the
// payment back.
func (a *Adapter) CreateInvoice(ctx context.Context, req paymentdomain.CreateInvoiceRequest) (*paymentdomain.Invoice, error) {
	if a.apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if req.BookingID == 0 {
		return nil, paymentdomain.ErrInvalidBookingRef
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.BookingID.String())
	form.Set("metadata[booking_id]", req.BookingID.String())
	form.Set("payment_intent_data[metadata][booking_id]", req.BookingID.String())
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	if a.successURL != "" {
		form.Set("success_url", a.successURL)
	}
	if a.cancelURL != "" {
		form.Set("cancel_url", a.cancelURL)
	}
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}
	if req.ExpiresAt != nil {
		form.Set("expires_at", strconv.FormatInt(req.ExpiresAt.Unix(), 10))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stripe: create checkout session: status %d: %s", resp.StatusCode, errorMessage(body))
	}

	var session checkoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if session.ID == "" || session.URL == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	invoice := &paymentdomain.Invoice{
		Provider:          "stripe",
		ProviderInvoiceID: session.ID,
		PaymentURL:        session.URL,
		AmountCents:       req.AmountCents,
		Currency:          strings.ToUpper(req.Currency),
	}
	if session.ExpiresAt > 0 {
		expires := time.Unix(session.ExpiresAt, 0).UTC()
		invoice.ExpiresAt = &expires
	}
	return invoice, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return "unknown error"
	}
	return payload.Error.Message
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentFailed)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountReceived int64          `json:"amount_received"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	amount := intent.Amount
	if eventType == paymentdomain.EventTypePaymentSucceeded && intent.AmountReceived > 0 {
		amount = intent.AmountReceived
	}
	bookingID, err := parseBookingID(intent.Metadata)
	if err != nil {
		return nil, err
	}

	occurredAt := timestamp(intent.Created, event.Created)
	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		ProviderTxRef:   intent.ID,
		Type:            eventType,
		BookingID:       bookingID,
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func parseBookingID(metadata map[string]any) (snowflake.ID, error) {
	raw := readMetadataValue(metadata, "booking_id")
	if raw == "" {
		return 0, paymentdomain.ErrInvalidBookingRef
	}
	bookingID, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, paymentdomain.ErrInvalidBookingRef
	}
	return bookingID, nil
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	default:
		return ""
	}
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
