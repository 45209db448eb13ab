package notifications

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testWebhookSender builds a sender whose URL validation and dialer accept
// the loopback addresses httptest servers bind to.
func testWebhookSender(secret string) *WebhookSender {
	return &WebhookSender{
		client:      &http.Client{},
		logger:      zerolog.Nop(),
		secret:      secret,
		validateURL: func(string) error { return nil },
	}
}

func TestWebhookSender_SendCode(t *testing.T) {
	var gotBody []byte
	var gotSignature string
	var gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Cardhaven-Signature")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := testWebhookSender("hook-secret")
	err := sender.SendCode(context.Background(), "ABCDE12345", server.URL)
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)

	var payload codePayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "code_delivery", payload.EventType)
	assert.Equal(t, "ABCDE12345", payload.Code)
	assert.False(t, payload.Timestamp.IsZero())

	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSignature)
}

func TestWebhookSender_SendCode_NoSecretNoSignature(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Cardhaven-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := testWebhookSender("")
	err := sender.SendCode(context.Background(), "ABCDE12345", server.URL)
	require.NoError(t, err)
	assert.Empty(t, gotHeader)
}

func TestWebhookSender_SendCode_SingleAttemptOnFailure(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := testWebhookSender("")
	err := sender.SendCode(context.Background(), "ABCDE12345", server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, 1, attempts)
}

func TestWebhookSender_SendCode_BlockedURL(t *testing.T) {
	sender := NewWebhookSender("", zerolog.Nop())

	err := sender.SendCode(context.Background(), "ABCDE12345", "http://169.254.169.254/latest/meta-data/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestWebhookSender_SendCode_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := testWebhookSender("")
	err := sender.SendCode(ctx, "ABCDE12345", server.URL)
	require.Error(t, err)
}
