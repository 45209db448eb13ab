// Package inventory manages the encrypted top-up code pool.
package inventory

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cardhaven/cardhaven/internal/crypto"
	"github.com/cardhaven/cardhaven/internal/db"
	"github.com/cardhaven/cardhaven/internal/metrics"
	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MinCodeLength is the shortest raw code accepted on import.
	MinCodeLength = 5
	// MaxCodeLength is the longest raw code accepted on import.
	MaxCodeLength = 500

	// MaxPageSize caps the page size of inventory listings.
	MaxPageSize = 100
	// DefaultPageSize is used when no limit is requested.
	DefaultPageSize = 50
)

// Store defines the persistence operations the inventory service needs.
type Store interface {
	CreateCode(ctx context.Context, code *models.Code) error
	ListCodes(ctx context.Context, filter db.CodeFilter) ([]*models.Code, error)
	CountCodes(ctx context.Context, filter db.CodeFilter) (int64, error)
	OverrideCodeStatus(ctx context.Context, id uuid.UUID, status *models.CodeStatus, linkedOrderID *string) (*models.Code, error)
}

// Service imports, lists, and corrects code records. Plaintext codes exist
// only inside Import, between sanitization and sealing.
type Service struct {
	store  Store
	keys   *crypto.KeyManager
	logger zerolog.Logger
}

// NewService creates an inventory service.
func NewService(store Store, keys *crypto.KeyManager, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		keys:   keys,
		logger: logger.With().Str("component", "inventory").Logger(),
	}
}

// ImportResult reports the outcome of a batch import.
type ImportResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Invalid int `json:"invalid"`
}

// Import sanitizes, encrypts, and stores a batch of raw codes for the given
// (product, variant) pool. Candidates outside the length bounds count as
// invalid; individual insert or encryption failures count as skipped without
// aborting the batch. No deduplication is performed against existing codes.
func (s *Service) Import(ctx context.Context, productID, variant string, rawCodes []string) (ImportResult, error) {
	var result ImportResult

	for _, raw := range rawCodes {
		code := sanitizeCode(raw)
		if n := utf8.RuneCountInString(code); n < MinCodeLength || n > MaxCodeLength {
			result.Invalid++
			continue
		}

		envelope, err := s.keys.Seal(code)
		if err != nil {
			s.logger.Error().Err(err).
				Str("product_id", productID).
				Str("variant", variant).
				Msg("failed to seal code during import")
			result.Skipped++
			continue
		}

		record := models.NewCode(productID, variant, envelope, MaskCode(code))
		if err := s.store.CreateCode(ctx, record); err != nil {
			s.logger.Error().Err(err).
				Str("product_id", productID).
				Str("variant", variant).
				Str("masked", record.MaskedPreview).
				Msg("failed to store code during import")
			result.Skipped++
			continue
		}

		result.Created++
	}

	metrics.CodesImported.Add(float64(result.Created))

	s.logger.Info().
		Str("product_id", productID).
		Str("variant", variant).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("invalid", result.Invalid).
		Msg("code import completed")

	return result, nil
}

// List returns one page of masked code records plus the total match count.
// Page numbers start at 1; limit is clamped to MaxPageSize.
func (s *Service) List(ctx context.Context, filter db.CodeFilter, page, limit int) ([]*models.Code, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	codes, err := s.store.ListCodes(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.store.CountCodes(ctx, db.CodeFilter{
		ProductID: filter.ProductID,
		Variant:   filter.Variant,
		Status:    filter.Status,
	})
	if err != nil {
		return nil, 0, err
	}

	return codes, total, nil
}

// Override applies a manual status correction to a single record.
func (s *Service) Override(ctx context.Context, id uuid.UUID, status *models.CodeStatus, linkedOrderID *string) (*models.Code, error) {
	return s.store.OverrideCodeStatus(ctx, id, status, linkedOrderID)
}

// SplitRawCodes turns a newline-delimited block into individual candidates.
// Blank lines are dropped; per-candidate sanitization happens in Import.
func SplitRawCodes(raw string) []string {
	lines := strings.Split(raw, "\n")
	codes := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			codes = append(codes, line)
		}
	}
	return codes
}

// sanitizeCode strips control characters and surrounding whitespace.
func sanitizeCode(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	return strings.TrimSpace(cleaned)
}

// MaskCode derives the non-reversible display form of a code: the last four
// alphanumeric characters behind a fixed mask.
func MaskCode(code string) string {
	var alnum []rune
	for _, r := range code {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum = append(alnum, r)
		}
	}
	if len(alnum) > 4 {
		alnum = alnum[len(alnum)-4:]
	}
	return "****" + string(alnum)
}
