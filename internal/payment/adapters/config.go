package adapters

import (
	"strings"

	"github.com/smallbiznis/warmline/internal/config"
	"github.com/smallbiznis/warmline/internal/payment/domain"
)

// ProviderConfigs maps each enabled provider to its adapter config. A
// provider with no webhook secret stays out of the map entirely: its
// webhooks are rejected and it cannot issue invoices.
func ProviderConfigs(cfg *config.Config) map[string]domain.AdapterConfig {
	configs := map[string]domain.AdapterConfig{}
	if secret := strings.TrimSpace(cfg.StripeWebhookSecret); secret != "" {
		configs["stripe"] = domain.AdapterConfig{Config: map[string]any{
			"webhook_secret": secret,
			"api_key":        cfg.StripeAPIKey,
			"base_url":       cfg.StripeAPIBaseURL,
			"success_url":    cfg.PaymentSuccessURL,
			"cancel_url":     cfg.PaymentCancelURL,
		}}
	}
	if secret := strings.TrimSpace(cfg.NowPaymentsIPNSecret); secret != "" {
		configs["nowpayments"] = domain.AdapterConfig{Config: map[string]any{
			"ipn_secret":  secret,
			"api_key":     cfg.NowPaymentsAPIKey,
			"base_url":    cfg.NowPaymentsBaseURL,
			"success_url": cfg.PaymentSuccessURL,
			"cancel_url":  cfg.PaymentCancelURL,
		}}
	}
	if token := strings.TrimSpace(cfg.BlockonomicsCallbackToken); token != "" {
		configs["blockonomics"] = domain.AdapterConfig{Config: map[string]any{
			"callback_token": token,
			"api_key":        cfg.BlockonomicsAPIKey,
			"base_url":       cfg.BlockonomicsBaseURL,
		}}
	}
	return configs
}
