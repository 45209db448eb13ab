// Package access issues single-use signed links to payment-proof images.
// In single-use mode each order gets at most one grant ever; each grant is
// bound to the requesting IP, and the underlying object URL expires on its
// own.
package access

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cardhaven/cardhaven/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// MinGrantTTL is the shortest lifetime a grant can be issued with.
	MinGrantTTL = 60 * time.Second
	// MaxGrantTTL is the longest lifetime a grant can be issued with.
	MaxGrantTTL = 600 * time.Second
	// DefaultGrantTTL is used when the caller does not request a lifetime.
	DefaultGrantTTL = 300 * time.Second

	tokenBytes = 32
)

// Sentinel errors for grant and validation failures.
var (
	// ErrAlreadyGranted means a proof-access grant was already issued for
	// this order. Issuance is once per order, with no retry.
	ErrAlreadyGranted = errors.New("proof access already granted for this order")
	// ErrInvalidToken means the token is unknown, already consumed, or
	// swept after expiry.
	ErrInvalidToken = errors.New("invalid or consumed access token")
	// ErrTokenExpired means the token existed but its lifetime ran out.
	ErrTokenExpired = errors.New("access token expired")
	// ErrIPMismatch means the token was presented from a different address
	// than the one it was issued to.
	ErrIPMismatch = errors.New("access token bound to a different address")
)

// IssuanceStore tracks which orders already received a grant. TryIssue must
// be atomic: of N concurrent calls for the same order, exactly one wins.
type IssuanceStore interface {
	TryIssue(ctx context.Context, orderID, ip string) (bool, error)
}

// Presigner produces a time-limited URL for a stored proof object.
type Presigner interface {
	PresignGet(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// Grant is a one-time view permit for a payment-proof image.
type Grant struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// token is the broker-side record backing a grant.
type token struct {
	orderID   string
	ip        string
	expiresAt time.Time
}

// BrokerConfig controls grant issuance behavior.
type BrokerConfig struct {
	// DefaultTTL is used when the caller does not request a lifetime.
	// Zero falls back to DefaultGrantTTL.
	DefaultTTL time.Duration
	// SingleUse restricts each order to one grant ever. When false, every
	// request for an eligible order receives a fresh grant; individual
	// tokens remain redeemable once regardless.
	SingleUse bool
}

// Broker issues and validates proof-access grants. Tokens live in memory;
// issuance state lives in the IssuanceStore so the once-per-order rule
// holds across restarts when a persistent store is configured.
type Broker struct {
	issuance   IssuanceStore
	presigner  Presigner
	defaultTTL time.Duration
	singleUse  bool
	logger     zerolog.Logger

	mu     sync.Mutex
	tokens map[string]*token
}

// NewBroker creates an access broker.
func NewBroker(issuance IssuanceStore, presigner Presigner, cfg BrokerConfig, logger zerolog.Logger) *Broker {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultGrantTTL
	}
	return &Broker{
		issuance:   issuance,
		presigner:  presigner,
		defaultTTL: cfg.DefaultTTL,
		singleUse:  cfg.SingleUse,
		logger:     logger.With().Str("component", "access").Logger(),
		tokens:     make(map[string]*token),
	}
}

// Issue grants one-time access to the proof object for an order. The TTL is
// clamped to [MinGrantTTL, MaxGrantTTL]; zero means the broker's default.
// In single-use mode a second call for the same order fails with
// ErrAlreadyGranted even if the first grant was never redeemed.
func (b *Broker) Issue(ctx context.Context, orderID, objectKey, requestIP string, ttl time.Duration) (*Grant, error) {
	ttl = b.clampTTL(ttl)

	if b.singleUse {
		ok, err := b.issuance.TryIssue(ctx, orderID, requestIP)
		if err != nil {
			return nil, fmt.Errorf("check grant issuance: %w", err)
		}
		if !ok {
			b.logger.Warn().
				Str("order_id", orderID).
				Str("ip", requestIP).
				Msg("repeated proof access attempt rejected")
			return nil, ErrAlreadyGranted
		}
	}

	url, err := b.presigner.PresignGet(ctx, objectKey, ttl)
	if err != nil {
		return nil, fmt.Errorf("presign proof object: %w", err)
	}

	tok, err := newTokenString()
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	expiresAt := time.Now().Add(ttl)
	b.mu.Lock()
	b.tokens[tok] = &token{orderID: orderID, ip: requestIP, expiresAt: expiresAt}
	b.mu.Unlock()

	metrics.ProofGrants.Inc()
	b.logger.Info().
		Str("order_id", orderID).
		Str("ip", requestIP).
		Dur("ttl", ttl).
		Msg("proof access granted")

	return &Grant{URL: url, Token: tok, ExpiresAt: expiresAt}, nil
}

// Redeem consumes a token. It succeeds at most once per token, only for the
// order the grant was issued for, and only from the IP it was issued to.
// Expired and unknown tokens are indistinguishable once the sweeper has run.
func (b *Broker) Redeem(tok, orderID, requestIP string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.tokens[tok]
	if !ok {
		return ErrInvalidToken
	}
	if time.Now().After(rec.expiresAt) {
		delete(b.tokens, tok)
		return ErrTokenExpired
	}
	// Mismatches leave the token intact; a failed validation must not burn
	// the legitimate holder's single use.
	if rec.orderID != orderID {
		b.logger.Warn().
			Str("issued_order", rec.orderID).
			Str("request_order", orderID).
			Str("ip", requestIP).
			Msg("access token presented under wrong order")
		return ErrInvalidToken
	}
	if rec.ip != requestIP {
		b.logger.Warn().
			Str("order_id", rec.orderID).
			Str("issued_ip", rec.ip).
			Str("request_ip", requestIP).
			Msg("access token presented from wrong address")
		return ErrIPMismatch
	}

	delete(b.tokens, tok)
	return nil
}

// SweepExpired drops tokens whose lifetime ran out and returns how many
// were removed.
func (b *Broker) SweepExpired() int {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var removed int
	for tok, rec := range b.tokens {
		if now.After(rec.expiresAt) {
			delete(b.tokens, tok)
			removed++
		}
	}
	return removed
}

func (b *Broker) clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return b.defaultTTL
	case ttl < MinGrantTTL:
		return MinGrantTTL
	case ttl > MaxGrantTTL:
		return MaxGrantTTL
	default:
		return ttl
	}
}

func newTokenString() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
