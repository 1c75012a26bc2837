package qbit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Default move/recheck settings.
const (
	// DefaultPollInterval is how often torrent state is polled during a move
	// or recheck. The underlying operation is I/O-bound on large media files;
	// backoff adds no value, so the delay is fixed.
	DefaultPollInterval = 15 * time.Second
	// DefaultMaxWait bounds how long a single move or recheck may stay in a
	// transitioning state before the run is aborted.
	DefaultMaxWait = 2 * time.Hour
)

// Mover drives the move/recheck cycle for a batch of torrents.
//
// Each torrent's full cycle completes before the next begins. Moves contend
// for bandwidth on shared storage, so running them concurrently only slows
// the batch down.
type Mover struct {
	client       Client
	pollInterval time.Duration
	maxWait      time.Duration
	logger       zerolog.Logger
}

// MoverOption configures a Mover.
type MoverOption func(*Mover)

// WithMoverLogger sets the logger.
func WithMoverLogger(logger zerolog.Logger) MoverOption {
	return func(m *Mover) {
		m.logger = logger
	}
}

// WithPollInterval sets the state poll interval.
func WithPollInterval(d time.Duration) MoverOption {
	return func(m *Mover) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithMaxWait bounds how long one move or recheck may take.
func WithMaxWait(d time.Duration) MoverOption {
	return func(m *Mover) {
		if d > 0 {
			m.maxWait = d
		}
	}
}

// NewMover creates a Mover backed by client.
func NewMover(client Client, opts ...MoverOption) *Mover {
	m := &Mover{
		client:       client,
		pollInterval: DefaultPollInterval,
		maxWait:      DefaultMaxWait,
		logger:       zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// MoveAndRecheck moves every torrent to newLocation and rechecks it, waiting
// for each operation to settle before issuing the next command.
//
// A transport error during one torrent's cycle is logged and does not halt
// the remaining torrents. A poll timeout or context cancellation is fatal:
// a torrent stuck transitioning means the external state can no longer be
// trusted.
func (m *Mover) MoveAndRecheck(ctx context.Context, hashes []string, newLocation string) error {
	for _, hash := range hashes {
		if err := m.moveOne(ctx, hash, newLocation); err != nil {
			var timeout *WaitTimeoutError
			if errors.As(err, &timeout) || ctx.Err() != nil {
				return err
			}
			m.logger.Error().Err(err).Str("hash", hash).Msg("failed to move/recheck torrent")
		}
	}
	return nil
}

func (m *Mover) moveOne(ctx context.Context, hash, newLocation string) error {
	if err := m.client.SetLocation(ctx, hash, newLocation); err != nil {
		return err
	}
	if err := m.waitSettled(ctx, hash); err != nil {
		return err
	}
	m.logger.Info().Str("hash", hash).Str("location", newLocation).Msg("torrent moved")

	if err := m.client.Recheck(ctx, hash); err != nil {
		return err
	}
	if err := m.waitSettled(ctx, hash); err != nil {
		return err
	}
	m.logger.Info().Str("hash", hash).Msg("torrent rechecked")

	return nil
}

// waitSettled polls at a fixed interval until the torrent leaves its
// transitioning state or the maximum wait elapses.
func (m *Mover) waitSettled(ctx context.Context, hash string) error {
	deadline := time.Now().Add(m.maxWait)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			record, err := m.client.Get(ctx, hash)
			if err != nil {
				return err
			}
			if !record.Transitioning() {
				return nil
			}
			if time.Now().After(deadline) {
				return &WaitTimeoutError{Hash: hash, Wait: m.maxWait}
			}
			m.logger.Debug().Str("hash", hash).Str("state", record.State).Msg("still transitioning")
		}
	}
}
