package notifications

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "noreply@example.com",
	}
}

func TestSMTPConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SMTPConfig)
		errMsg string
	}{
		{"valid", func(c *SMTPConfig) {}, ""},
		{"missing host", func(c *SMTPConfig) { c.Host = "" }, "host is required"},
		{"missing port", func(c *SMTPConfig) { c.Port = 0 }, "port is required"},
		{"missing from", func(c *SMTPConfig) { c.From = "" }, "from address is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validSMTPConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestNewEmailSender(t *testing.T) {
	sender, err := NewEmailSender(validSMTPConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "Your top-up code", sender.config.Subject, "subject should default when unset")

	cfg := validSMTPConfig()
	cfg.Subject = "Your purchase"
	sender, err = NewEmailSender(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "Your purchase", sender.config.Subject)

	_, err = NewEmailSender(SMTPConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestEmailSender_CodeDeliveryTemplate(t *testing.T) {
	sender, err := NewEmailSender(validSMTPConfig(), zerolog.Nop())
	require.NoError(t, err)

	var body bytes.Buffer
	data := codeDeliveryData{Code: "ABCDE12345", SentAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, sender.templates.ExecuteTemplate(&body, "code_delivery.html", data))

	assert.Contains(t, body.String(), "ABCDE12345")
	assert.Contains(t, body.String(), "redeemed once")
}

func TestEmailSender_BuildMessage(t *testing.T) {
	sender, err := NewEmailSender(validSMTPConfig(), zerolog.Nop())
	require.NoError(t, err)

	msg := string(sender.buildMessage("buyer@example.com", "Your top-up code", "<p>body</p>"))
	assert.Contains(t, msg, "From: noreply@example.com\r\n")
	assert.Contains(t, msg, "To: buyer@example.com\r\n")
	assert.Contains(t, msg, "Subject: Your top-up code\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=\"UTF-8\"\r\n")
	assert.Contains(t, msg, "<p>body</p>")
}
