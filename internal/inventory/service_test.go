package inventory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cardhaven/cardhaven/internal/crypto"
	"github.com/cardhaven/cardhaven/internal/db"
	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCodeStore struct {
	created    []*models.Code
	codes      []*models.Code
	total      int64
	createErr  error
	failAfter  int // fail CreateCode calls after this many successes; 0 disables
	listErr    error
	listFilter db.CodeFilter
}

func (m *mockCodeStore) CreateCode(_ context.Context, code *models.Code) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.failAfter > 0 && len(m.created) >= m.failAfter {
		return errors.New("insert failed")
	}
	m.created = append(m.created, code)
	return nil
}

func (m *mockCodeStore) ListCodes(_ context.Context, filter db.CodeFilter) ([]*models.Code, error) {
	m.listFilter = filter
	return m.codes, m.listErr
}

func (m *mockCodeStore) CountCodes(_ context.Context, _ db.CodeFilter) (int64, error) {
	return m.total, nil
}

func (m *mockCodeStore) OverrideCodeStatus(_ context.Context, id uuid.UUID, status *models.CodeStatus, linkedOrderID *string) (*models.Code, error) {
	for _, c := range m.codes {
		if c.ID == id {
			if status != nil {
				c.Status = *status
			}
			c.LinkedOrderID = linkedOrderID
			return c, nil
		}
	}
	return nil, db.ErrCodeNotFound
}

func newTestService(store Store) *Service {
	keys, _ := crypto.NewKeyManager("test-secret")
	return NewService(store, keys, zerolog.Nop())
}

func TestService_Import(t *testing.T) {
	store := &mockCodeStore{}
	svc := newTestService(store)

	result, err := svc.Import(context.Background(), "game-1", "100 Diamonds", []string{
		"ABCDE12345",
		"FGHJK67890",
	})
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Created: 2, Skipped: 0, Invalid: 0}, result)
	require.Len(t, store.created, 2)

	first := store.created[0]
	assert.Equal(t, "game-1", first.ProductID)
	assert.Equal(t, "100 Diamonds", first.Variant)
	assert.Equal(t, models.CodeStatusUnused, first.Status)
	assert.Equal(t, "****2345", first.MaskedPreview)
	assert.True(t, strings.HasPrefix(first.Envelope, "v1:"), "envelope %q must be versioned", first.Envelope)
	assert.NotContains(t, first.Envelope, "ABCDE12345")

	// Stored envelopes must decrypt back to the sanitized plaintext.
	keys, _ := crypto.NewKeyManager("test-secret")
	plaintext, err := keys.Open(first.Envelope)
	require.NoError(t, err)
	assert.Equal(t, "ABCDE12345", plaintext)
}

func TestService_Import_SanitizesAndValidates(t *testing.T) {
	store := &mockCodeStore{}
	svc := newTestService(store)

	result, err := svc.Import(context.Background(), "game-1", "100 Diamonds", []string{
		"  ABCDE12345  ",          // trimmed, valid
		"AB\x00CDE\t12345\r",      // control characters stripped, valid
		"ABCD",                    // too short
		"    ",                    // empty after trim
		strings.Repeat("x", 501),  // too long
		strings.Repeat("y", 500),  // exactly max, valid
		"AB\x01\x02",              // too short after stripping
	})
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Created: 3, Skipped: 0, Invalid: 4}, result)

	keys, _ := crypto.NewKeyManager("test-secret")
	plaintext, err := keys.Open(store.created[1].Envelope)
	require.NoError(t, err)
	assert.Equal(t, "ABCDE12345", plaintext, "control characters must be stripped before sealing")
}

func TestService_Import_LengthBoundsAreCharacters(t *testing.T) {
	store := &mockCodeStore{}
	svc := newTestService(store)

	// 200 three-byte runes: 600 bytes but well within the 500-character cap.
	wide := strings.Repeat("코", 200)
	result, err := svc.Import(context.Background(), "game-1", "100 Diamonds", []string{
		wide,
		strings.Repeat("코", 501), // over the cap in characters too
		"코드",                     // two characters, too short
	})
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Created: 1, Skipped: 0, Invalid: 2}, result)

	keys, _ := crypto.NewKeyManager("test-secret")
	plaintext, err := keys.Open(store.created[0].Envelope)
	require.NoError(t, err)
	assert.Equal(t, wide, plaintext)
}

func TestService_Import_CountsInsertFailuresAsSkipped(t *testing.T) {
	store := &mockCodeStore{failAfter: 1}
	svc := newTestService(store)

	result, err := svc.Import(context.Background(), "game-1", "100 Diamonds", []string{
		"ABCDE12345",
		"FGHJK67890",
		"LMNOP13579",
	})
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Created: 1, Skipped: 2, Invalid: 0}, result)
}

func TestService_List_ClampsPagination(t *testing.T) {
	store := &mockCodeStore{total: 250}
	svc := newTestService(store)

	_, total, err := svc.List(context.Background(), db.CodeFilter{ProductID: "game-1"}, 0, 500)
	require.NoError(t, err)
	assert.EqualValues(t, 250, total)
	assert.Equal(t, MaxPageSize, store.listFilter.Limit)
	assert.Equal(t, 0, store.listFilter.Offset)

	_, _, err = svc.List(context.Background(), db.CodeFilter{}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, store.listFilter.Limit)
	assert.Equal(t, 2*DefaultPageSize, store.listFilter.Offset)
}

func TestService_Override_NotFound(t *testing.T) {
	store := &mockCodeStore{}
	svc := newTestService(store)

	_, err := svc.Override(context.Background(), uuid.New(), nil, nil)
	assert.ErrorIs(t, err, db.ErrCodeNotFound)
}

func TestSplitRawCodes(t *testing.T) {
	codes := SplitRawCodes("ABCDE12345\n\nFGHJK67890\n   \nLMNOP13579\n")
	assert.Equal(t, []string{"ABCDE12345", "FGHJK67890", "LMNOP13579"}, codes)

	assert.Empty(t, SplitRawCodes(""))
	assert.Empty(t, SplitRawCodes("\n\n"))
}

func TestMaskCode(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"ABCDE12345", "****2345"},
		{"AB-CD-12", "****CD12"},
		{"abc", "****abc"},
		{"!!!!!", "****"},
		{"CODE WITH SPACES 99", "****ES99"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskCode(tt.code), "MaskCode(%q)", tt.code)
	}
}
