package blockonomics

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"math"
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
	return "blockonomics"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	token, ok := cfg.Config["callback_token"].(string)
	if !ok || strings.TrimSpace(token) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	apiKey, _ := cfg.Config["api_key"].(string)
	baseURL, _ := cfg.Config["base_url"].(string)
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://www.blockonomics.co"
	}
	return &Adapter{
		callbackToken: strings.TrimSpace(token),
		apiKey:        strings.TrimSpace(apiKey),
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Adapter handles the Blockonomics form-encoded callback. The payload is the
// raw query string; authenticity rests on the shared secret parameter.
type Adapter struct {
	callbackToken string
	apiKey        string
	baseURL       string
	httpClient    *http.Client
}

type newAddressResponse struct {
	Address string `json:"address"`
}

// CreateInvoice allocates a fresh receive address from the merchant wallet.
// There is no hosted checkout page; the customer pays the address directly
// and the callback reports confirmations against it.
func (a *Adapter) CreateInvoice(ctx context.Context, req paymentdomain.CreateInvoiceRequest) (*paymentdomain.Invoice, error) {
	if a.apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if req.BookingID == 0 {
		return nil, paymentdomain.ErrInvalidBookingRef
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/new_address", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("blockonomics: new address: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("blockonomics: new address: status %d", resp.StatusCode)
	}

	var addr newAddressResponse
	if err := json.Unmarshal(body, &addr); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(addr.Address) == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	return &paymentdomain.Invoice{
		Provider:          "blockonomics",
		ProviderInvoiceID: addr.Address,
		Address:           addr.Address,
		AmountCents:       req.AmountCents,
		Currency:          strings.ToUpper(req.Currency),
		ExpiresAt:         req.ExpiresAt,
	}, nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	secret := strings.TrimSpace(values.Get("secret"))
	if secret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(a.callbackToken)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	txid := strings.TrimSpace(values.Get("txid"))
	if txid == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	// status: 0 unconfirmed, 1 partially confirmed, 2 confirmed. Only a
	// confirmed transaction settles the booking.
	status, err := strconv.Atoi(strings.TrimSpace(values.Get("status")))
	if err != nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if status < 2 {
		return nil, paymentdomain.ErrEventIgnored
	}

	bookingID, err := snowflake.ParseString(strings.TrimSpace(values.Get("order_id")))
	if err != nil {
		return nil, paymentdomain.ErrInvalidBookingRef
	}

	// fiat_cents carries the USD value computed at address generation time;
	// value is satoshis and cannot be compared against a cent price.
	var amountCents int64
	if raw := strings.TrimSpace(values.Get("fiat_cents")); raw != "" {
		amountCents, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, paymentdomain.ErrInvalidEvent
		}
	} else if raw := strings.TrimSpace(values.Get("fiat_value")); raw != "" {
		fiat, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, paymentdomain.ErrInvalidEvent
		}
		amountCents = int64(math.Round(fiat * 100))
	}

	return &paymentdomain.PaymentEvent{
		Provider:        "blockonomics",
		ProviderEventID: txid + ":confirmed",
		ProviderTxRef:   txid,
		Type:            paymentdomain.EventTypePaymentSucceeded,
		BookingID:       bookingID,
		Amount:          amountCents,
		Currency:        "USD",
		OccurredAt:      time.Now().UTC(),
		RawPayload:      payload,
	}, nil
}
