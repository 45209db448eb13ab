// Package audit records operator-facing events on a best-effort basis.
// Recording never blocks or fails the operation being audited.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/rs/zerolog"
)

// writeTimeout bounds each audit insert so a slow database cannot pile up
// goroutines indefinitely.
const writeTimeout = 5 * time.Second

// Store defines the persistence operations the recorder needs.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder writes audit entries asynchronously. A failed write is logged
// and dropped; callers are never told about it.
type Recorder struct {
	store  Store
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates an audit recorder.
func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Record persists an audit entry in the background. The entry gets its own
// timeout context so it survives cancellation of the request that spawned it.
func (r *Recorder) Record(_ context.Context, action models.AuditAction, summary, actor string) {
	entry := models.NewAuditLog(action, summary, actor)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := r.store.CreateAuditLog(ctx, entry); err != nil {
			r.logger.Error().Err(err).
				Str("action", string(action)).
				Str("actor", actor).
				Msg("failed to write audit entry, dropping")
		}
	}()
}

// Wait blocks until all in-flight audit writes finish. Called during
// shutdown so pending entries are not lost with the process.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
