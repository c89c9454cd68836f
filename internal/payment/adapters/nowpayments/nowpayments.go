package nowpayments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
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
	return "nowpayments"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := cfg.Config["ipn_secret"].(string)
	if !ok || strings.TrimSpace(secret) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	apiKey, _ := cfg.Config["api_key"].(string)
	baseURL, _ := cfg.Config["base_url"].(string)
	successURL, _ := cfg.Config["success_url"].(string)
	cancelURL, _ := cfg.Config["cancel_url"].(string)
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.nowpayments.io"
	}
	return &Adapter{
		ipnSecret:  strings.TrimSpace(secret),
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		successURL: strings.TrimSpace(successURL),
		cancelURL:  strings.TrimSpace(cancelURL),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type Adapter struct {
	ipnSecret  string
	apiKey     string
	baseURL    string
	successURL string
	cancelURL  string
	httpClient *http.Client
}

type invoiceRequest struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description,omitempty"`
	SuccessURL       string  `json:"success_url,omitempty"`
	CancelURL        string  `json:"cancel_url,omitempty"`
}

type invoiceResponse struct {
	ID         json.Number `json:"id"`
	InvoiceURL string      `json:"invoice_url"`
}

// CreateInvoice opens a hosted crypto invoice. The booking id travels as the
// order_id, which the IPN echoes back.
func (a *Adapter) CreateInvoice(ctx context.Context, req paymentdomain.CreateInvoiceRequest) (*paymentdomain.Invoice, error) {
	if a.apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if req.BookingID == 0 {
		return nil, paymentdomain.ErrInvalidBookingRef
	}

	body, err := json.Marshal(invoiceRequest{
		PriceAmount:      float64(req.AmountCents) / 100,
		PriceCurrency:    strings.ToLower(req.Currency),
		OrderID:          req.BookingID.String(),
		OrderDescription: req.Description,
		SuccessURL:       a.successURL,
		CancelURL:        a.cancelURL,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/invoice", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nowpayments: create invoice: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("nowpayments: create invoice: status %d", resp.StatusCode)
	}

	var invoice invoiceResponse
	if err := json.Unmarshal(respBody, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if invoice.ID.String() == "" || invoice.InvoiceURL == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	return &paymentdomain.Invoice{
		Provider:          "nowpayments",
		ProviderInvoiceID: invoice.ID.String(),
		PaymentURL:        invoice.InvoiceURL,
		AmountCents:       req.AmountCents,
		Currency:          strings.ToUpper(req.Currency),
		ExpiresAt:         req.ExpiresAt,
	}, nil
}

// Verify checks the x-nowpayments-sig header: HMAC-SHA512 over the payload
// re-serialized with sorted keys, per the NOWPayments IPN contract.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get("x-nowpayments-sig"))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	sorted, err := sortedJSON(payload)
	if err != nil {
		return paymentdomain.ErrInvalidPayload
	}

	mac := hmac.New(sha512.New, []byte(a.ipnSecret))
	_, _ = mac.Write(sorted)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type ipnPayload struct {
	PaymentID       json.Number `json:"payment_id"`
	PaymentStatus   string      `json:"payment_status"`
	OrderID         string      `json:"order_id"`
	PriceAmount     float64     `json:"price_amount"`
	PriceCurrency   string      `json:"price_currency"`
	ActuallyPaid    float64     `json:"actually_paid"`
	OutcomeAmount   float64     `json:"outcome_amount"`
	OutcomeCurrency string      `json:"outcome_currency"`
	UpdatedAt       int64       `json:"updated_at"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var ipn ipnPayload
	if err := json.Unmarshal(payload, &ipn); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if ipn.PaymentID.String() == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch strings.ToLower(strings.TrimSpace(ipn.PaymentStatus)) {
	case "finished", "confirmed":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "failed", "expired", "refunded":
		eventType = paymentdomain.EventTypePaymentFailed
	default:
		// waiting, confirming, sending, partially_paid: not final yet.
		return nil, paymentdomain.ErrEventIgnored
	}

	bookingID, err := snowflake.ParseString(strings.TrimSpace(ipn.OrderID))
	if err != nil {
		return nil, paymentdomain.ErrInvalidBookingRef
	}

	// price_amount is the fiat amount the order was priced at; actually_paid
	// is denominated in the crypto currency and cannot be compared in cents.
	amountCents := int64(math.Round(ipn.PriceAmount * 100))

	occurredAt := time.Now().UTC()
	if ipn.UpdatedAt > 0 {
		occurredAt = time.UnixMilli(ipn.UpdatedAt).UTC()
	}

	paymentID := ipn.PaymentID.String()
	return &paymentdomain.PaymentEvent{
		Provider:        "nowpayments",
		ProviderEventID: paymentID + ":" + strings.ToLower(strings.TrimSpace(ipn.PaymentStatus)),
		ProviderTxRef:   paymentID,
		Type:            eventType,
		BookingID:       bookingID,
		Amount:          amountCents,
		Currency:        strings.ToUpper(strings.TrimSpace(ipn.PriceCurrency)),
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

// sortedJSON re-encodes a JSON object with its keys in sorted order, the form
// NOWPayments signs.
func sortedJSON(payload []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(m[k])
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}
