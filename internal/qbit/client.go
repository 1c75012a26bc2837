// Package qbit provides the qBittorrent gateway: listing, resolving, moving,
// and rechecking torrents through the Web API v2.
package qbit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Record represents a torrent as reported by the download client. Fields are
// parsed at the gateway boundary; nothing downstream touches raw API payloads.
type Record struct {
	// Hash is the torrent info hash, the stable handle for all operations.
	Hash string
	// Name is the release name of the torrent.
	Name string
	// Category is the category/label assigned to this torrent.
	Category string
	// Tags are the tags assigned to this torrent.
	Tags []string
	// State is the raw client state string (e.g. "uploading", "moving").
	State string
	// SavePath is the directory the torrent is saved under.
	SavePath string
	// ContentPath is the full path to the content (file or directory).
	ContentPath string
	// AddedOn is when the torrent was added.
	AddedOn time.Time
	// CompletedOn is when the torrent finished downloading (zero if not complete).
	CompletedOn time.Time
}

// HasTag reports whether the record carries the given tag.
func (r Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Transitioning reports whether the torrent is mid-move or mid-recheck and
// should be polled again before issuing further commands.
func (r Record) Transitioning() bool {
	switch r.State {
	case "moving", "checkingDL", "checkingUP":
		return true
	}
	return false
}

// Client is the narrow interface the relocation flow needs from qBittorrent.
type Client interface {
	// Connect establishes an authenticated session.
	Connect(ctx context.Context) error

	// Close ends the session.
	Close() error

	// List returns all torrents, optionally filtered by category, sorted by
	// completion time ascending.
	List(ctx context.Context, category string) ([]Record, error)

	// Get returns the single torrent matching hash. It fails with
	// RecordNotFoundError on zero results and AmbiguousHashError on more
	// than one.
	Get(ctx context.Context, hash string) (Record, error)

	// SetLocation asks the client to move a torrent's data to newPath.
	SetLocation(ctx context.Context, hash, newPath string) error

	// Recheck asks the client to re-verify a torrent's data on disk.
	Recheck(ctx context.Context, hash string) error
}

// RecordNotFoundError is returned when a hash resolves to no torrent.
type RecordNotFoundError struct {
	Hash string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("torrent with hash %s not found", e.Hash)
}

// AmbiguousHashError is returned when a hash resolves to more than one torrent.
type AmbiguousHashError struct {
	Hash  string
	Count int
}

func (e *AmbiguousHashError) Error() string {
	return fmt.Sprintf("expected exactly one torrent for hash %s, found %d", e.Hash, e.Count)
}

// WaitTimeoutError is returned when a torrent stays in a transitioning state
// longer than the configured maximum wait.
type WaitTimeoutError struct {
	Hash string
	Wait time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("torrent %s still transitioning after %s", e.Hash, e.Wait)
}

// configurable is implemented by the client to support shared options.
type configurable interface {
	setLogger(zerolog.Logger)
}

// Option is a functional option for configuring the client.
type Option func(configurable)

// WithLogger sets the logger for the client.
func WithLogger(logger zerolog.Logger) Option {
	return func(c configurable) {
		c.setLogger(logger)
	}
}
