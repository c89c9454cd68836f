package vapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/warmline/internal/config"
	"github.com/smallbiznis/warmline/internal/providers/voice/domain"
)

const ProviderName = "vapi"

type Provider struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
}

func New(cfg *config.Config) *Provider {
	return &Provider{
		baseURL:       strings.TrimRight(cfg.VoiceProviderBaseURL, "/"),
		apiKey:        cfg.VoiceProviderAPIKey,
		webhookSecret: cfg.VoiceWebhookSecret,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *Provider) Provider() string {
	return ProviderName
}

type createCallRequest struct {
	AssistantID        string       `json:"assistantId"`
	PhoneNumberID      string       `json:"phoneNumberId"`
	Customer           callCustomer `json:"customer"`
	MaxDurationSeconds int          `json:"maxDurationSeconds,omitempty"`
	Metadata           callMetadata `json:"metadata"`
}

type callCustomer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type callMetadata struct {
	BookingID string `json:"bookingId"`
}

type createCallResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *Provider) PlaceCall(ctx context.Context, req domain.PlaceCallRequest) (*domain.PlaceCallResponse, error) {
	payload := createCallRequest{
		AssistantID:   req.AssistantID,
		PhoneNumberID: req.PhoneNumberID,
		Customer: callCustomer{
			Number: req.CustomerPhone,
			Name:   req.CustomerName,
		},
		Metadata: callMetadata{BookingID: req.BookingID},
	}
	if req.MaxDuration > 0 {
		payload.MaxDurationSeconds = int(req.MaxDuration.Seconds())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: vapi status %d: %s", domain.ErrCallRejected, resp.StatusCode, truncate(respBody, 256))
		}
		return nil, fmt.Errorf("vapi create call: status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	var created createCallResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("vapi create call: decode response: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("vapi create call: response missing call id")
	}
	return &domain.PlaceCallResponse{
		ProviderCallID: created.ID,
		Status:         created.Status,
	}, nil
}

func (p *Provider) VerifyWebhook(signature string, body []byte) error {
	if p.webhookSecret == "" {
		return fmt.Errorf("vapi webhook secret not configured")
	}
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type webhookEnvelope struct {
	Message struct {
		Type      string `json:"type"`
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
		Call      struct {
			ID string `json:"id"`
		} `json:"call"`
		EndedReason     string  `json:"endedReason"`
		DurationSeconds float64 `json:"durationSeconds"`
	} `json:"message"`
}

func (p *Provider) ParseEvent(body []byte) (*domain.Event, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("vapi webhook: decode: %w", err)
	}
	msg := envelope.Message
	if msg.Call.ID == "" {
		return nil, fmt.Errorf("vapi webhook: missing call id")
	}

	occurredAt := time.Now().UTC()
	if msg.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			occurredAt = ts.UTC()
		}
	}

	switch msg.Type {
	case "status-update":
		if msg.Status != "in-progress" {
			return nil, domain.ErrEventIgnored
		}
		return &domain.Event{
			ProviderCallID: msg.Call.ID,
			Type:           domain.EventCallStarted,
			OccurredAt:     occurredAt,
		}, nil
	case "end-of-call-report":
		return &domain.Event{
			ProviderCallID: msg.Call.ID,
			Type:           domain.EventCallEnded,
			EndReason:      mapEndReason(msg.EndedReason),
			DurationSec:    int(msg.DurationSeconds),
			OccurredAt:     occurredAt,
		}, nil
	default:
		return nil, domain.ErrEventIgnored
	}
}

func mapEndReason(reason string) domain.EndReason {
	switch {
	case reason == "customer-ended-call" || reason == "assistant-ended-call" || strings.HasPrefix(reason, "call.in-progress"):
		return domain.EndReasonCompleted
	case reason == "customer-did-not-answer" || reason == "voicemail":
		return domain.EndReasonNoAnswer
	case reason == "customer-busy":
		return domain.EndReasonBusy
	case reason == "manually-canceled":
		return domain.EndReasonCancelled
	default:
		return domain.EndReasonFailed
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
