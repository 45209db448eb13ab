package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// codePayload is the JSON body posted to webhook delivery targets.
type codePayload struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
}

// WebhookSender delivers codes to customer-supplied HTTP(S) endpoints with
// HMAC signing. Every request goes through a validating dialer so targets
// cannot be pointed at private or link-local addresses. Delivery is a single
// attempt: the caller decides what a failure means, and an allocation must
// not hold its row lock through a retry loop.
type WebhookSender struct {
	client      *http.Client
	logger      zerolog.Logger
	secret      string
	validateURL func(string) error
}

// NewWebhookSender creates a webhook delivery channel. The secret, when
// non-empty, is used to sign each payload so receivers can verify origin.
func NewWebhookSender(secret string, logger zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: ValidatingDialer(),
			},
		},
		logger: logger.With().Str("component", "webhook_sender").Logger(),
		secret: secret,
		validateURL: func(u string) error {
			return ValidateWebhookURL(u, false)
		},
	}
}

// SendCode posts the plaintext code to the target URL in a single attempt.
func (w *WebhookSender) SendCode(ctx context.Context, plaintext, target string) error {
	if err := w.validateURL(target); err != nil {
		return fmt.Errorf("webhook URL blocked: %w", err)
	}

	body, err := json.Marshal(codePayload{
		EventType: "code_delivery",
		Timestamp: time.Now().UTC(),
		Code:      plaintext,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	return w.doSend(ctx, target, body)
}

// doSend performs a single webhook HTTP request.
func (w *WebhookSender) doSend(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if w.secret != "" {
		req.Header.Set("X-Cardhaven-Signature", computeHMAC(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Info().
			Int("status", resp.StatusCode).
			Msg("webhook delivery sent")
		return nil
	}

	return fmt.Errorf("webhook returned status %d", resp.StatusCode)
}

// computeHMAC computes an HMAC-SHA256 signature for the given payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
