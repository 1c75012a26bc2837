package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mediashift/mediashift/internal/candidate"
	"github.com/mediashift/mediashift/internal/catalog"
	"github.com/mediashift/mediashift/internal/config"
	"github.com/mediashift/mediashift/internal/history"
	"github.com/mediashift/mediashift/internal/qbit"
	"github.com/mediashift/mediashift/internal/relocate"
	"github.com/mediashift/mediashift/internal/snapshot"
)

//nolint:gochecknoglobals // cobra CLI flags require package-level variables
var (
	runCategory string
	runSnapshot string
)

//nolint:gochecknoglobals // cobra requires package-level command variables
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Relocate the oldest eligible torrent",
	Long: `Run selects the oldest completed torrent not yet relocated, groups its
sibling seasons when Sonarr tracks it, snapshots the library tree, moves the
torrent data, restores the tree under the archive root, and updates the
catalog path.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRelocation(cmd.Context(), relocate.RunOptions{
			Category:     runCategory,
			SnapshotPath: runSnapshot,
		})
	},
}

//nolint:gochecknoglobals // cobra requires package-level command variables
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what the next run would do, without moving anything",
	Long: `Plan performs candidate selection, season grouping, and catalog
validation, writes the snapshot document, and stops before any data is
moved.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRelocation(cmd.Context(), relocate.RunOptions{
			Category:     runCategory,
			SnapshotPath: runSnapshot,
			DryRun:       true,
		})
	},
}

//nolint:gochecknoinits // cobra requires init for command registration
func init() {
	for _, cmd := range []*cobra.Command{runCmd, planCmd} {
		cmd.Flags().StringVar(&runCategory, "category", "", "restrict selection to one category")
		cmd.Flags().StringVar(&runSnapshot, "snapshot", "", "where to write the snapshot document")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
}

//nolint:forbidigo // CLI result summary goes to stdout
func runRelocation(parent context.Context, opts relocate.RunOptions) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, appConfig)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := engine.Run(ctx, opts)
	if err != nil {
		if errors.Is(err, candidate.ErrNoCandidate) {
			log.Info().Msg("nothing to relocate")
			return nil
		}
		return err
	}

	if result.DryRun {
		fmt.Printf("would relocate %d torrent(s) to %s (catalog entry %d)\n",
			len(result.Hashes), result.Destination, result.CatalogID)
		return nil
	}

	fmt.Printf("relocated %d torrent(s) to %s", len(result.Hashes), result.Destination)
	if result.FollowUps > 0 {
		fmt.Printf(" (%d file(s) need attention, see %s)",
			result.FollowUps, snapshot.FollowUpFilename)
	}
	fmt.Println()

	return nil
}

// buildEngine wires the relocation engine from configuration. The returned
// cleanup closes the qBittorrent session and the run ledger.
func buildEngine(ctx context.Context, cfg config.Config) (*relocate.Engine, func(), error) {
	client := qbit.NewClient(qbit.Config{
		URL:         cfg.QBittorrent.URL,
		Username:    cfg.QBittorrent.Username,
		Password:    cfg.QBittorrent.Password,
		HTTPTimeout: cfg.QBittorrent.HTTPTimeout,
	}, qbit.WithLogger(log.With().Str("component", "qbittorrent").Logger()))

	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connecting to qbittorrent: %w", err)
	}

	sonarr := catalog.NewSonarr(catalog.ArrConfig{
		URL:         cfg.Sonarr.URL,
		APIKey:      cfg.Sonarr.APIKey,
		ArchiveRoot: cfg.Paths.ArchiveRoot,
		HTTPTimeout: cfg.Sonarr.HTTPTimeout,
	},
		catalog.WithLogger(log.With().Str("component", "sonarr").Logger()),
		catalog.WithMatchThreshold(cfg.Matching.CatalogRatio))

	radarr := catalog.NewRadarr(catalog.ArrConfig{
		URL:         cfg.Radarr.URL,
		APIKey:      cfg.Radarr.APIKey,
		ArchiveRoot: cfg.Paths.ArchiveRoot,
		HTTPTimeout: cfg.Radarr.HTTPTimeout,
	},
		catalog.WithLogger(log.With().Str("component", "radarr").Logger()),
		catalog.WithMatchThreshold(cfg.Matching.CatalogRatio))

	selector := candidate.NewSelector(client, cfg.Paths.ArchiveRoot,
		candidate.WithCategories(cfg.Categories.All()),
		candidate.WithSelectorLogger(log.With().Str("component", "selector").Logger()))

	grouper := candidate.NewGrouper(sonarr,
		candidate.WithNameRatio(cfg.Matching.NameRatio),
		candidate.WithTitleRatio(cfg.Matching.TitleRatio),
		candidate.WithGrouperLogger(log.With().Str("component", "grouper").Logger()))

	resolver := qbit.NewResolver(client,
		qbit.WithSequentialThreshold(cfg.Resolve.SequentialThreshold),
		qbit.WithMaxWorkers(cfg.Resolve.MaxWorkers),
		qbit.WithResolverLogger(log.With().Str("component", "resolver").Logger()))

	mover := qbit.NewMover(client,
		qbit.WithPollInterval(cfg.Move.PollInterval),
		qbit.WithMaxWait(cfg.Move.MaxWait),
		qbit.WithMoverLogger(log.With().Str("component", "mover").Logger()))

	snapshots := snapshot.NewEngine(
		snapshot.WithLogger(log.With().Str("component", "snapshot").Logger()))

	engineOpts := []relocate.EngineOption{
		relocate.WithLogger(log.With().Str("component", "relocate").Logger()),
	}

	var ledger *history.Store
	if cfg.History.DatabasePath != "" {
		var err error
		ledger, err = history.Open(cfg.History.DatabasePath,
			history.WithLogger(log.With().Str("component", "history").Logger()))
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("opening run ledger: %w", err)
		}
		engineOpts = append(engineOpts, relocate.WithLedger(ledger))
	}

	engine := relocate.NewEngine(relocate.Params{
		Selector: selector,
		Grouper:  grouper,
		Resolver: resolver,
		Mover:    mover,
		Catalogs: map[string]catalog.Service{
			cfg.Categories.TV:     sonarr,
			cfg.Categories.Movies: radarr,
		},
		Snapshots: snapshots,
		Paths:     cfg.Paths,
	}, engineOpts...)

	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close qbittorrent session")
		}
		if ledger != nil {
			if err := ledger.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close run ledger")
			}
		}
	}

	return engine, cleanup, nil
}
