// Package catalog provides the Sonarr/Radarr gateway used to resolve media
// titles to library entries and commit library path updates.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrNotEpisodic is returned when seasons are requested from a service that
// does not track them (Radarr).
var ErrNotEpisodic = errors.New("service does not track seasons")

// TitleNotFoundError is returned when no library entry scores above the
// match threshold for a title.
type TitleNotFoundError struct {
	Title string
	App   string
}

func (e *TitleNotFoundError) Error() string {
	return fmt.Sprintf("%q not found in %s library", e.Title, e.App)
}

// Season describes one season of an episodic library entry.
type Season struct {
	Number           int
	Monitored        bool
	EpisodeFileCount int
}

// Service is the narrow interface the relocation flow needs from a media
// catalog (Sonarr for episodic content, Radarr for films).
type Service interface {
	// Type returns the service type ("sonarr" or "radarr").
	Type() string

	// Episodic reports whether the service tracks seasons.
	Episodic() bool

	// FindIDByTitle fuzzy-matches title against the library, including
	// alternate titles, and returns the best match above the threshold.
	// Fails with TitleNotFoundError when nothing scores high enough.
	FindIDByTitle(ctx context.Context, title string) (int, error)

	// GetPath returns the library path of an entry.
	GetPath(ctx context.Context, id int) (string, error)

	// GetSeasons returns season details for an episodic entry. Non-episodic
	// services fail with ErrNotEpisodic.
	GetSeasons(ctx context.Context, id int) ([]Season, error)

	// UpdatePath points an entry at newRoot, keeping its current basename.
	// It returns false without updating when the entry already lives under
	// the archive root, so a replayed run cannot double-relocate. A false
	// return is advisory: by the time it is called the filesystem relocation
	// has already happened and must not be rolled back.
	UpdatePath(ctx context.Context, id int, newRoot string) (bool, error)

	// TestConnection tests the connection to the service.
	TestConnection(ctx context.Context) error
}

// configurable is implemented by all services to support shared options.
type configurable interface {
	setLogger(zerolog.Logger)
	setMatchThreshold(float64)
}

// Option is a functional option for configuring services.
type Option func(configurable)

// WithLogger sets the logger for any service.
func WithLogger(logger zerolog.Logger) Option {
	return func(c configurable) {
		c.setLogger(logger)
	}
}

// WithMatchThreshold overrides the fuzzy title match threshold (0-100).
func WithMatchThreshold(threshold float64) Option {
	return func(c configurable) {
		c.setMatchThreshold(threshold)
	}
}
