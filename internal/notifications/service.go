// Package notifications delivers plaintext top-up codes to customers over
// email or webhook, chosen by the shape of the delivery target.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"
)

// ErrUnsupportedTarget is returned when a delivery target is neither an
// email address nor an HTTP(S) URL.
var ErrUnsupportedTarget = errors.New("unsupported delivery target")

// Channel sends a plaintext code over one transport.
type Channel interface {
	SendCode(ctx context.Context, plaintext, target string) error
}

// Service routes code deliveries to the right channel. Targets containing
// an "@" are treated as email addresses; targets starting with http:// or
// https:// as webhook endpoints.
type Service struct {
	email   Channel
	webhook Channel
	logger  zerolog.Logger
}

// NewService creates a delivery service. Either channel may be nil, in which
// case targets for that channel are rejected.
func NewService(email, webhook Channel, logger zerolog.Logger) *Service {
	return &Service{
		email:   email,
		webhook: webhook,
		logger:  logger.With().Str("component", "notifications").Logger(),
	}
}

// DeliverCode sends the plaintext code to the target. The plaintext is never
// logged; failures report the channel and target only.
func (s *Service) DeliverCode(ctx context.Context, plaintext, target string) error {
	channel, name, err := s.resolve(target)
	if err != nil {
		return err
	}

	if err := channel.SendCode(ctx, plaintext, target); err != nil {
		return fmt.Errorf("deliver code via %s: %w", name, err)
	}

	s.logger.Info().
		Str("channel", name).
		Str("target", target).
		Msg("code delivered")
	return nil
}

func (s *Service) resolve(target string) (Channel, string, error) {
	switch {
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		if s.webhook == nil {
			return nil, "", fmt.Errorf("%w: webhook delivery is not configured", ErrUnsupportedTarget)
		}
		return s.webhook, "webhook", nil
	case strings.Contains(target, "@"):
		if s.email == nil {
			return nil, "", fmt.Errorf("%w: email delivery is not configured", ErrUnsupportedTarget)
		}
		return s.email, "email", nil
	default:
		return nil, "", fmt.Errorf("%w: %q is neither an email address nor an HTTP(S) URL", ErrUnsupportedTarget, target)
	}
}

// ValidateTarget checks a delivery target before any code is at stake, so
// bad targets fail fast instead of burning an allocation attempt.
func ValidateTarget(target string) error {
	switch {
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		return ValidateWebhookURL(target, false)
	case strings.Contains(target, "@"):
		if _, err := mail.ParseAddress(target); err != nil {
			return fmt.Errorf("invalid email target: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedTarget, target)
	}
}
