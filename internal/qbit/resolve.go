package qbit

import (
	"context"
	"errors"
	"io/fs"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mediashift/mediashift/internal/scan"
)

// Default batch resolution settings.
const (
	// DefaultSequentialThreshold is the largest batch resolved without a
	// worker pool. Single-record runs are the common case and pool setup
	// buys nothing there.
	DefaultSequentialThreshold = 5
	// DefaultMaxWorkers caps concurrency for bulk season groups.
	DefaultMaxWorkers = 10
)

// RecordInfo carries a resolved torrent together with the on-disk facts the
// snapshot and restore passes need. ArchiveLocked is computed fresh from the
// live file listing on every resolve; it can legitimately change between
// snapshot time and restore time if the archive was extracted or removed.
type RecordInfo struct {
	Record        Record
	ContentPath   string
	ArchiveLocked bool
}

// Resolver fetches torrent records by hash and annotates them with content
// paths and archive-lock state.
type Resolver struct {
	client              Client
	sequentialThreshold int
	maxWorkers          int
	logger              zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger.
func WithResolverLogger(logger zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithSequentialThreshold sets the largest batch resolved sequentially.
func WithSequentialThreshold(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.sequentialThreshold = n
		}
	}
}

// WithMaxWorkers caps the resolver worker pool.
func WithMaxWorkers(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxWorkers = n
		}
	}
}

// NewResolver creates a Resolver backed by client.
func NewResolver(client Client, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:              client,
		sequentialThreshold: DefaultSequentialThreshold,
		maxWorkers:          DefaultMaxWorkers,
		logger:              zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve fetches RecordInfo for every hash. Batches up to the sequential
// threshold are resolved in order; larger batches fan out over a capped
// worker pool. Any individual failure fails the whole resolve: a missing or
// ambiguous hash means the grouping could not establish a safe target.
func (r *Resolver) Resolve(ctx context.Context, hashes []string) (map[string]RecordInfo, error) {
	if len(hashes) == 0 {
		return nil, errors.New("at least one torrent hash must be provided")
	}

	infos := make(map[string]RecordInfo, len(hashes))

	if len(hashes) <= r.sequentialThreshold {
		for _, hash := range hashes {
			info, err := r.resolveOne(ctx, hash)
			if err != nil {
				return nil, err
			}
			infos[hash] = info
		}
		return infos, nil
	}

	type result struct {
		hash string
		info RecordInfo
		err  error
	}

	workers := r.maxWorkers
	if len(hashes) < workers {
		workers = len(hashes)
	}

	work := make(chan string)
	results := make(chan result, len(hashes))

	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for hash := range work {
				info, err := r.resolveOne(ctx, hash)
				results <- result{hash: hash, info: info, err: err}
			}
		})
	}

	go func() {
		defer close(work)
		for _, hash := range hashes {
			select {
			case work <- hash:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		infos[res.hash] = res.info
	}
	if firstErr != nil {
		return nil, firstErr
	}

	return infos, nil
}

func (r *Resolver) resolveOne(ctx context.Context, hash string) (RecordInfo, error) {
	record, err := r.client.Get(ctx, hash)
	if err != nil {
		return RecordInfo{}, err
	}

	info := RecordInfo{
		Record:      record,
		ContentPath: record.ContentPath,
	}

	names, err := scan.ListFilenames(record.ContentPath)
	switch {
	case err == nil:
		info.ArchiveLocked = scan.ArchiveLocked(names)
	case errors.Is(err, fs.ErrNotExist):
		// Content may have been removed since the last run; the snapshot
		// precondition check will report it if it matters.
		r.logger.Debug().Str("hash", hash).Str("path", record.ContentPath).Msg("content path missing during resolve")
	default:
		return RecordInfo{}, err
	}

	r.logger.Debug().
		Str("hash", hash).
		Str("name", record.Name).
		Bool("archive_locked", info.ArchiveLocked).
		Msg("resolved torrent")

	return info, nil
}
