package access

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper periodically removes expired tokens from the broker.
type Sweeper struct {
	broker *Broker
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a token sweeper for the broker.
func NewSweeper(broker *Broker, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		broker: broker,
		cron:   cron.New(),
		logger: logger.With().Str("component", "token_sweeper").Logger(),
	}
}

// Start begins sweeping expired tokens once a minute.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("token sweeper already running")
	}

	_, err := s.cron.AddFunc("@every 1m", s.runSweep)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Msg("token sweeper started (every 1m)")
	return nil
}

// Stop stops the sweeper gracefully.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping token sweeper")
	return s.cron.Stop()
}

// runSweep executes a single sweep pass.
func (s *Sweeper) runSweep() {
	if removed := s.broker.SweepExpired(); removed > 0 {
		s.logger.Debug().
			Int("removed", removed).
			Msg("swept expired access tokens")
	}
}
