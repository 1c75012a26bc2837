// Package relocate drives one end-to-end relocation: pick a torrent, group
// its seasons, snapshot the library tree, move the torrent data, restore the
// tree under the archive root, and point the catalog at the new location.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/mediashift/mediashift/internal/candidate"
	"github.com/mediashift/mediashift/internal/catalog"
	"github.com/mediashift/mediashift/internal/config"
	"github.com/mediashift/mediashift/internal/history"
	"github.com/mediashift/mediashift/internal/qbit"
	"github.com/mediashift/mediashift/internal/snapshot"
)

// LockFilename is the advisory lock taken under the destination category root
// while a relocation is writing there.
const LockFilename = ".mediashift.lock"

// ErrDestinationBusy is returned when another process holds the destination
// lock.
var ErrDestinationBusy = errors.New("destination is locked by another relocation")

// GroupValidationError is returned when a grouped sibling resolves to a
// different catalog entry than the primary candidate. Relocating such a group
// would mix two works under one library path.
type GroupValidationError struct {
	Name      string
	PrimaryID int
	SiblingID int
}

func (e *GroupValidationError) Error() string {
	return fmt.Sprintf("grouped torrent %q resolves to catalog entry %d, primary resolves to %d",
		e.Name, e.SiblingID, e.PrimaryID)
}

// Params holds the collaborators an Engine needs.
type Params struct {
	Selector *candidate.Selector
	Grouper  *candidate.Grouper
	Resolver *qbit.Resolver
	Mover    *qbit.Mover
	// Catalogs maps a torrent category to the service tracking it.
	Catalogs  map[string]catalog.Service
	Snapshots *snapshot.Engine
	Paths     config.PathsConfig
}

// Engine runs relocations.
type Engine struct {
	selector  *candidate.Selector
	grouper   *candidate.Grouper
	resolver  *qbit.Resolver
	mover     *qbit.Mover
	catalogs  map[string]catalog.Service
	snapshots *snapshot.Engine
	paths     config.PathsConfig
	ledger    *history.Store
	confirm   func(filename string) bool
	logger    zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLedger records runs in the given history store.
func WithLedger(ledger *history.Store) EngineOption {
	return func(e *Engine) {
		e.ledger = ledger
	}
}

// WithConfirm sets the policy consulted before copying media files that lost
// their managed linkage. The default accepts everything, keeping runs
// non-interactive.
func WithConfirm(confirm func(filename string) bool) EngineOption {
	return func(e *Engine) {
		e.confirm = confirm
	}
}

// NewEngine creates an Engine.
func NewEngine(params Params, opts ...EngineOption) *Engine {
	e := &Engine{
		selector:  params.Selector,
		grouper:   params.Grouper,
		resolver:  params.Resolver,
		mover:     params.Mover,
		catalogs:  params.Catalogs,
		snapshots: params.Snapshots,
		paths:     params.Paths,
		logger:    zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RunOptions controls a single relocation run.
type RunOptions struct {
	// Category restricts candidate selection to one category. Empty considers
	// all configured categories.
	Category string
	// SnapshotPath overrides where the snapshot document is written.
	SnapshotPath string
	// DryRun stops after planning: candidate selected, group validated,
	// snapshot written, nothing moved.
	DryRun bool
}

// Result summarizes a relocation run.
type Result struct {
	RunID          string
	Hashes         []string
	CatalogID      int
	OriginalPath   string
	Destination    string
	CatalogUpdated bool
	FollowUps      int
	DryRun         bool
}

// Run performs one relocation. On a dry run it stops after the snapshot is
// written and reports the plan.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	result, err := e.run(ctx, opts)

	if e.ledger != nil && result != nil && result.RunID != "" {
		outcome := history.Outcome{
			Err:         err,
			Hashes:      result.Hashes,
			CatalogID:   int64(result.CatalogID),
			Destination: result.Destination,
			FollowUps:   result.FollowUps,
		}
		if finishErr := e.ledger.Finish(ctx, result.RunID, outcome); finishErr != nil {
			e.logger.Error().Err(finishErr).Str("run_id", result.RunID).Msg("failed to record run outcome")
		}
	}

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (e *Engine) run(ctx context.Context, opts RunOptions) (*Result, error) {
	result := &Result{DryRun: opts.DryRun}

	primary, err := e.selector.Select(ctx, opts.Category)
	if err != nil {
		return result, err
	}

	category := primary.Category
	service, ok := e.catalogs[category]
	if !ok {
		return result, fmt.Errorf("no catalog configured for category %q", category)
	}

	if e.ledger != nil {
		if result.RunID, err = e.ledger.Begin(ctx, category); err != nil {
			return result, err
		}
	}

	group := []qbit.Record{primary}
	if service.Episodic() {
		all, listErr := e.selector.List(ctx, category)
		if listErr != nil {
			return result, listErr
		}
		if group, err = e.grouper.Group(ctx, primary, all); err != nil {
			return result, err
		}
	}

	id, originalPath, err := e.validateGroup(ctx, service, primary, group)
	if err != nil {
		return result, err
	}
	result.CatalogID = id
	result.OriginalPath = originalPath

	hashes := make([]string, 0, len(group))
	for _, record := range group {
		hashes = append(hashes, record.Hash)
	}
	sort.Strings(hashes)
	result.Hashes = hashes

	infos, err := e.resolver.Resolve(ctx, hashes)
	if err != nil {
		return result, err
	}
	roots := orderedRoots(hashes, infos)

	destRoot := filepath.Join(e.paths.ArchiveRoot, category)
	destPath := filepath.Join(destRoot, filepath.Base(originalPath))
	torrentDest := filepath.Join(e.paths.TorrentsRoot, category)
	result.Destination = destPath

	snapPath := opts.SnapshotPath
	if snapPath == "" {
		snapPath = filepath.Join(destRoot, "."+filepath.Base(originalPath)+".snapshot.json")
	}

	if err = os.MkdirAll(destRoot, 0750); err != nil {
		return result, err
	}

	if _, err = e.snapshots.Save(originalPath, roots, snapPath); err != nil {
		return result, err
	}

	if opts.DryRun {
		e.logger.Info().
			Str("name", primary.Name).
			Int("torrents", len(group)).
			Int("catalog_id", id).
			Str("from", originalPath).
			Str("to", destPath).
			Str("snapshot", snapPath).
			Msg("dry run: relocation planned, nothing moved")
		return result, nil
	}

	lock := flock.New(filepath.Join(destRoot, LockFilename))
	locked, err := lock.TryLock()
	if err != nil {
		return result, fmt.Errorf("acquiring destination lock: %w", err)
	}
	if !locked {
		return result, ErrDestinationBusy
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if err = e.mover.MoveAndRecheck(ctx, hashes, torrentDest); err != nil {
		return result, err
	}

	// Content paths changed during the move; resolve again so restore links
	// against the live locations.
	if infos, err = e.resolver.Resolve(ctx, hashes); err != nil {
		return result, err
	}
	roots = orderedRoots(hashes, infos)

	restoreOpts := snapshot.DefaultOptions()
	restoreOpts.Confirm = e.confirm

	report, err := e.snapshots.Restore(originalPath, destPath, snapPath, roots, restoreOpts)
	if err != nil {
		return result, err
	}
	result.FollowUps = len(report.FollowUps)

	// Catalog updates are advisory. The data is already in place; a failed
	// update only means the operator points the entry manually.
	updated, err := service.UpdatePath(ctx, id, destRoot)
	if err != nil {
		e.logger.Error().Err(err).Int("catalog_id", id).Msg("failed to update catalog path")
	}
	result.CatalogUpdated = updated

	e.logger.Info().
		Str("name", primary.Name).
		Int("torrents", len(group)).
		Int("linked", report.Linked).
		Int("copied", report.Copied).
		Int("follow_ups", len(report.FollowUps)).
		Str("destination", destPath).
		Bool("catalog_updated", updated).
		Msg("relocation completed")

	return result, nil
}

// validateGroup resolves every grouped record to a catalog entry and checks
// they all agree with the primary.
func (e *Engine) validateGroup(
	ctx context.Context,
	service catalog.Service,
	primary qbit.Record,
	group []qbit.Record,
) (int, string, error) {
	title, err := candidate.Title(primary.Name)
	if err != nil {
		return 0, "", err
	}

	id, err := service.FindIDByTitle(ctx, title)
	if err != nil {
		return 0, "", err
	}

	for _, record := range group {
		if record.Hash == primary.Hash {
			continue
		}

		siblingTitle, titleErr := candidate.Title(record.Name)
		if titleErr != nil {
			return 0, "", titleErr
		}

		siblingID, findErr := service.FindIDByTitle(ctx, siblingTitle)
		if findErr != nil {
			return 0, "", findErr
		}
		if siblingID != id {
			return 0, "", &GroupValidationError{Name: record.Name, PrimaryID: id, SiblingID: siblingID}
		}
	}

	path, err := service.GetPath(ctx, id)
	if err != nil {
		return 0, "", err
	}

	return id, path, nil
}

// orderedRoots returns the resolved infos in hash order for deterministic
// snapshot and restore passes.
func orderedRoots(hashes []string, infos map[string]qbit.RecordInfo) []qbit.RecordInfo {
	roots := make([]qbit.RecordInfo, 0, len(hashes))
	for _, hash := range hashes {
		if info, ok := infos[hash]; ok {
			roots = append(roots, info)
		}
	}
	return roots
}
