package candidate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agext/levenshtein"
	"github.com/rs/zerolog"

	"github.com/mediashift/mediashift/internal/catalog"
	"github.com/mediashift/mediashift/internal/qbit"
)

// Default fuzzy matching thresholds (0-100 scale).
const (
	// DefaultNameRatio is the whole-name similarity above which two releases
	// are compared by parsed title alone.
	DefaultNameRatio = 50
	// DefaultTitleRatio is the stricter title-only similarity applied when
	// whole-name similarity is low. Episode numbering depresses whole-name
	// similarity while titles stay identical, hence the two tiers.
	DefaultTitleRatio = 90
)

// SeasonMismatchError is returned when the grouped torrents do not cover the
// same seasons the catalog reports as monitored and realized. Proceeding
// would relocate an incomplete or over-matched set.
type SeasonMismatchError struct {
	Grouped   int
	Monitored int
}

func (e *SeasonMismatchError) Error() string {
	return fmt.Sprintf("grouped torrents cover %d seasons but the catalog reports %d monitored seasons with files",
		e.Grouped, e.Monitored)
}

// Grouper finds the sibling torrents of a serialized release (other seasons
// of the same show) and cross-validates the set against Sonarr.
type Grouper struct {
	episodic   catalog.Service
	nameRatio  float64
	titleRatio float64
	logger     zerolog.Logger
}

// GrouperOption configures a Grouper.
type GrouperOption func(*Grouper)

// WithGrouperLogger sets the logger.
func WithGrouperLogger(logger zerolog.Logger) GrouperOption {
	return func(g *Grouper) {
		g.logger = logger
	}
}

// WithNameRatio overrides the whole-name similarity threshold.
func WithNameRatio(ratio float64) GrouperOption {
	return func(g *Grouper) {
		if ratio > 0 {
			g.nameRatio = ratio
		}
	}
}

// WithTitleRatio overrides the title-only similarity threshold.
func WithTitleRatio(ratio float64) GrouperOption {
	return func(g *Grouper) {
		if ratio > 0 {
			g.titleRatio = ratio
		}
	}
}

// NewGrouper creates a Grouper validating against the given episodic catalog.
func NewGrouper(episodic catalog.Service, opts ...GrouperOption) *Grouper {
	g := &Grouper{
		episodic:   episodic,
		nameRatio:  DefaultNameRatio,
		titleRatio: DefaultTitleRatio,
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Group returns the torrents from all that belong to the same serialized work
// as primary, including primary itself, after validating that the distinct
// season numbers they cover match the catalog's monitored seasons with files.
//
// Similarity checks run concurrently across all records; a failure to parse
// one record's name excludes that record without failing the others.
func (g *Grouper) Group(ctx context.Context, primary qbit.Record, all []qbit.Record) ([]qbit.Record, error) {
	siblings := g.findSiblings(primary, all)

	grouped := countSeasons(siblings)
	g.logger.Debug().
		Str("name", primary.Name).
		Int("siblings", len(siblings)).
		Int("seasons", grouped).
		Msg("season grouping complete")

	title, err := Title(primary.Name)
	if err != nil {
		return nil, err
	}

	id, err := g.episodic.FindIDByTitle(ctx, title)
	if err != nil {
		return nil, err
	}

	seasons, err := g.episodic.GetSeasons(ctx, id)
	if err != nil {
		return nil, err
	}

	monitored := 0
	for _, season := range seasons {
		if season.Monitored && season.EpisodeFileCount > 0 {
			monitored++
		}
	}

	if monitored != grouped {
		return nil, &SeasonMismatchError{Grouped: grouped, Monitored: monitored}
	}

	g.logger.Info().
		Str("title", title).
		Int("seasons", grouped).
		Msg("grouped seasons match the catalog")

	return siblings, nil
}

// findSiblings runs the similarity check for every known record concurrently
// and collects the accepted ones in input order.
func (g *Grouper) findSiblings(primary qbit.Record, all []qbit.Record) []qbit.Record {
	accepted := make([]bool, len(all))

	var wg sync.WaitGroup
	for i, other := range all {
		wg.Go(func() {
			accepted[i] = g.similar(primary, other)
		})
	}
	wg.Wait()

	var siblings []qbit.Record
	for i, ok := range accepted {
		if ok {
			siblings = append(siblings, all[i])
		}
	}
	return siblings
}

// similar applies the two-tier fuzzy check: a high whole-name ratio only
// needs matching parsed titles, a low one additionally needs a near-exact
// title-only ratio.
func (g *Grouper) similar(primary, other qbit.Record) bool {
	primaryTitle, err := Title(primary.Name)
	if err != nil {
		g.logger.Debug().Err(err).Str("name", primary.Name).Msg("similarity check skipped")
		return false
	}
	otherTitle, err := Title(other.Name)
	if err != nil {
		g.logger.Debug().Err(err).Str("name", other.Name).Msg("similarity check skipped")
		return false
	}

	titlesMatch := strings.EqualFold(primaryTitle, otherTitle)
	ratio := similarity(primary.Name, other.Name)

	if ratio > g.nameRatio {
		return titlesMatch
	}

	return titlesMatch && similarity(primaryTitle, otherTitle) > g.titleRatio
}

// countSeasons counts distinct season numbers parsed from the record names.
func countSeasons(records []qbit.Record) int {
	seen := make(map[int]bool)
	for _, record := range records {
		if season, ok := SeasonNumber(record.Name); ok {
			seen[season] = true
		}
	}
	return len(seen)
}

// similarity returns a 0-100 ratio between two strings.
func similarity(a, b string) float64 {
	return levenshtein.Similarity(a, b, nil) * 100
}
