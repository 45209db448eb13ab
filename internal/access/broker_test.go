package access

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPresigner struct {
	urls    []string
	ttls    []time.Duration
	err     error
	counter int
}

func (m *mockPresigner) PresignGet(_ context.Context, objectKey string, ttl time.Duration) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.counter++
	url := fmt.Sprintf("https://bucket.example.com/%s?sig=%d", objectKey, m.counter)
	m.urls = append(m.urls, url)
	m.ttls = append(m.ttls, ttl)
	return url, nil
}

func newTestBroker(presigner Presigner) *Broker {
	return NewBroker(NewMemoryIssuanceStore(), presigner, BrokerConfig{SingleUse: true}, zerolog.Nop())
}

func TestBroker_Issue(t *testing.T) {
	presigner := &mockPresigner{}
	broker := newTestBroker(presigner)

	grant, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 120*time.Second)
	require.NoError(t, err)
	assert.Contains(t, grant.URL, "proofs/ord-1.jpg")
	assert.NotEmpty(t, grant.Token)
	assert.WithinDuration(t, time.Now().Add(120*time.Second), grant.ExpiresAt, 2*time.Second)
	require.Len(t, presigner.ttls, 1)
	assert.Equal(t, 120*time.Second, presigner.ttls[0])
}

func TestBroker_Issue_OncePerOrder(t *testing.T) {
	broker := newTestBroker(&mockPresigner{})

	_, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
	require.NoError(t, err)

	// A second attempt fails even from the same address, and even though
	// the first grant was never redeemed.
	_, err = broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
	assert.ErrorIs(t, err, ErrAlreadyGranted)

	// Other orders are unaffected.
	_, err = broker.Issue(context.Background(), "ord-2", "proofs/ord-2.jpg", "203.0.113.7", 0)
	assert.NoError(t, err)
}

func TestBroker_Issue_SingleUseDisabled(t *testing.T) {
	broker := NewBroker(NewMemoryIssuanceStore(), &mockPresigner{}, BrokerConfig{SingleUse: false}, zerolog.Nop())

	first, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
	require.NoError(t, err)

	// Repeated requests keep succeeding, each with a fresh token.
	second, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	// Each token is still redeemable exactly once.
	require.NoError(t, broker.Redeem(first.Token, "ord-1", "203.0.113.7"))
	assert.ErrorIs(t, broker.Redeem(first.Token, "ord-1", "203.0.113.7"), ErrInvalidToken)
	assert.NoError(t, broker.Redeem(second.Token, "ord-1", "203.0.113.7"))
}

func TestBroker_Issue_ClampsTTL(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"zero uses default", 0, DefaultGrantTTL},
		{"below minimum", 5 * time.Second, MinGrantTTL},
		{"above maximum", time.Hour, MaxGrantTTL},
		{"within range", 90 * time.Second, 90 * time.Second},
		{"exactly minimum", MinGrantTTL, MinGrantTTL},
		{"exactly maximum", MaxGrantTTL, MaxGrantTTL},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			presigner := &mockPresigner{}
			broker := newTestBroker(presigner)

			orderID := fmt.Sprintf("ord-%d", i)
			_, err := broker.Issue(context.Background(), orderID, "proofs/p.jpg", "203.0.113.7", tt.ttl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, presigner.ttls[0])
		})
	}
}

func TestBroker_Issue_PresignFailureDoesNotConsumeToken(t *testing.T) {
	presigner := &mockPresigner{err: fmt.Errorf("s3 unreachable")}
	broker := newTestBroker(presigner)

	_, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyGranted)
}

func TestBroker_Issue_Concurrent(t *testing.T) {
	broker := newTestBroker(&mockPresigner{})

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var granted, rejected int
	for err := range results {
		switch {
		case err == nil:
			granted++
		default:
			assert.ErrorIs(t, err, ErrAlreadyGranted)
			rejected++
		}
	}
	assert.Equal(t, 1, granted, "exactly one concurrent request may win")
	assert.Equal(t, attempts-1, rejected)
}

func TestBroker_Redeem(t *testing.T) {
	broker := newTestBroker(&mockPresigner{})

	grant, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
	require.NoError(t, err)

	require.NoError(t, broker.Redeem(grant.Token, "ord-1", "203.0.113.7"))

	// Single use: the same token fails the second time.
	err = broker.Redeem(grant.Token, "ord-1", "203.0.113.7")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBroker_Redeem_IPBound(t *testing.T) {
	broker := newTestBroker(&mockPresigner{})

	grant, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
	require.NoError(t, err)

	err = broker.Redeem(grant.Token, "ord-1", "198.51.100.9")
	assert.ErrorIs(t, err, ErrIPMismatch)

	// The wrong-address attempt must not consume the grant.
	assert.NoError(t, broker.Redeem(grant.Token, "ord-1", "203.0.113.7"))
}

func TestBroker_Redeem_WrongOrderDoesNotConsume(t *testing.T) {
	broker := newTestBroker(&mockPresigner{})

	grant, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
	require.NoError(t, err)

	// Presenting the token under another order fails without burning it.
	err = broker.Redeem(grant.Token, "ord-2", "203.0.113.7")
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.NoError(t, broker.Redeem(grant.Token, "ord-1", "203.0.113.7"))
}

func TestBroker_Redeem_UnknownToken(t *testing.T) {
	broker := newTestBroker(&mockPresigner{})
	err := broker.Redeem("no-such-token", "ord-1", "203.0.113.7")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBroker_Redeem_Expired(t *testing.T) {
	broker := newTestBroker(&mockPresigner{})

	grant, err := broker.Issue(context.Background(), "ord-1", "proofs/ord-1.jpg", "203.0.113.7", 0)
	require.NoError(t, err)

	broker.mu.Lock()
	broker.tokens[grant.Token].expiresAt = time.Now().Add(-time.Second)
	broker.mu.Unlock()

	err = broker.Redeem(grant.Token, "ord-1", "203.0.113.7")
	assert.ErrorIs(t, err, ErrTokenExpired)

	// Consumed by expiry; from here on it is just unknown.
	err = broker.Redeem(grant.Token, "ord-1", "203.0.113.7")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBroker_SweepExpired(t *testing.T) {
	broker := newTestBroker(&mockPresigner{})

	live, err := broker.Issue(context.Background(), "ord-live", "proofs/a.jpg", "203.0.113.7", 0)
	require.NoError(t, err)
	stale, err := broker.Issue(context.Background(), "ord-stale", "proofs/b.jpg", "203.0.113.7", 0)
	require.NoError(t, err)

	broker.mu.Lock()
	broker.tokens[stale.Token].expiresAt = time.Now().Add(-time.Minute)
	broker.mu.Unlock()

	assert.Equal(t, 1, broker.SweepExpired())
	assert.Equal(t, 0, broker.SweepExpired())

	assert.NoError(t, broker.Redeem(live.Token, "ord-live", "203.0.113.7"))
}

func TestMemoryIssuanceStore_TryIssue(t *testing.T) {
	store := NewMemoryIssuanceStore()

	ok, err := store.TryIssue(context.Background(), "ord-1", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryIssue(context.Background(), "ord-1", "203.0.113.8")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.TryIssue(context.Background(), "ord-2", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, ok)
}
