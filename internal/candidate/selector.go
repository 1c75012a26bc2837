// Package candidate selects which torrents are eligible for relocation and
// groups multi-season sets into a single relocation unit.
package candidate

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mediashift/mediashift/internal/fileutil"
	"github.com/mediashift/mediashift/internal/qbit"
)

// ErrNoCandidate is returned when no torrent is eligible for relocation.
var ErrNoCandidate = errors.New("no eligible relocation candidate found")

// SkipTag marks torrents the operator has excluded from relocation.
const SkipTag = "skip"

// Selector lists eligible torrents and picks the oldest as the primary
// relocation candidate.
type Selector struct {
	client      qbit.Client
	archiveRoot string
	categories  []string
	logger      zerolog.Logger
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithSelectorLogger sets the logger.
func WithSelectorLogger(logger zerolog.Logger) SelectorOption {
	return func(s *Selector) {
		s.logger = logger
	}
}

// WithCategories sets the media categories considered when no explicit
// category is given.
func WithCategories(categories []string) SelectorOption {
	return func(s *Selector) {
		if len(categories) > 0 {
			s.categories = categories
		}
	}
}

// NewSelector creates a Selector. Torrents whose content already lives under
// archiveRoot are never candidates.
func NewSelector(client qbit.Client, archiveRoot string, opts ...SelectorOption) *Selector {
	s := &Selector{
		client:      client,
		archiveRoot: archiveRoot,
		categories:  []string{"movies", "tv"},
		logger:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// List returns completed torrents in the given category (or all configured
// media categories when empty), sorted by completion time ascending.
func (s *Selector) List(ctx context.Context, category string) ([]qbit.Record, error) {
	if category != "" {
		return s.client.List(ctx, category)
	}

	var records []qbit.Record
	for _, cat := range s.categories {
		batch, err := s.client.List(ctx, cat)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CompletedOn.Before(records[j].CompletedOn)
	})

	return records, nil
}

// Select returns the oldest eligible torrent: not already relocated and not
// tagged for skipping. Fails with ErrNoCandidate when nothing qualifies.
func (s *Selector) Select(ctx context.Context, category string) (qbit.Record, error) {
	records, err := s.List(ctx, category)
	if err != nil {
		return qbit.Record{}, err
	}

	for _, record := range records {
		if s.relocated(record) || record.HasTag(SkipTag) {
			continue
		}

		s.logger.Info().
			Str("name", record.Name).
			Str("path", record.ContentPath).
			Time("completed_on", record.CompletedOn).
			Int("candidates", len(records)).
			Msg("selected prime candidate")

		return record, nil
	}

	return qbit.Record{}, ErrNoCandidate
}

func (s *Selector) relocated(record qbit.Record) bool {
	return fileutil.DescendsFrom(record.ContentPath, s.archiveRoot)
}
