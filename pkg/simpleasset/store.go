package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultFetchTimeout  = 5 * time.Minute
	DefaultUploadTimeout = 10 * time.Minute
)

// AssetStore is the engine's context object. It is constructed once at
// process start and owns every component; nothing in this package keeps
// package-level state.
type AssetStore struct {
	repo      Repository
	blobs     BlobStore
	fetcher   Fetcher
	uploaders *Uploaders
	events    EventSink
	logger    *slog.Logger
	now       func() time.Time

	knownProviders map[ProviderID]struct{}
	fetchTimeout   time.Duration
	uploadTimeout  time.Duration
	maxTransfers   int64
	capacityBytes  int64
	verifyCached   bool

	claims   *inflight
	registry *Registry
	cache    *UploadCache
	lineage  *LineageGraph
	branches *BranchGraph
	evictor  *Evictor
}

// Option represents a functional option for configuring the store
type Option func(*AssetStore)

// WithRepository sets the repository for asset and graph rows
func WithRepository(repo Repository) Option {
	return func(s *AssetStore) {
		s.repo = repo
	}
}

// WithBlobStore sets the local byte cache backend
func WithBlobStore(store BlobStore) Option {
	return func(s *AssetStore) {
		s.blobs = store
	}
}

// WithFetcher replaces the default HTTP fetcher
func WithFetcher(fetcher Fetcher) Option {
	return func(s *AssetStore) {
		s.fetcher = fetcher
	}
}

// WithUploader registers a provider uploader
func WithUploader(uploader ProviderUploader) Option {
	return func(s *AssetStore) {
		s.uploaders.Register(uploader)
	}
}

// WithEventSink sets the event sink for the store
func WithEventSink(sink EventSink) Option {
	return func(s *AssetStore) {
		s.events = sink
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *AssetStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKnownProviders restricts provider ids to the given set.
func WithKnownProviders(providers ...ProviderID) Option {
	return func(s *AssetStore) {
		for _, p := range providers {
			s.knownProviders[p] = struct{}{}
		}
	}
}

// WithFetchTimeout bounds a single fetch from the origin.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *AssetStore) {
		s.fetchTimeout = d
	}
}

// WithUploadTimeout bounds a single upload to a provider.
func WithUploadTimeout(d time.Duration) Option {
	return func(s *AssetStore) {
		s.uploadTimeout = d
	}
}

// WithMaxConcurrentTransfers bounds concurrent fetches and uploads; 0 means unbounded.
func WithMaxConcurrentTransfers(n int) Option {
	return func(s *AssetStore) {
		s.maxTransfers = int64(n)
	}
}

// WithCacheCapacity sets the byte budget of the local cache; 0 disables the check.
func WithCacheCapacity(bytes int64) Option {
	return func(s *AssetStore) {
		s.capacityBytes = bytes
	}
}

// WithVerifyCachedBytes re-hashes cached bytes before each reuse.
func WithVerifyCachedBytes(verify bool) Option {
	return func(s *AssetStore) {
		s.verifyCached = verify
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *AssetStore) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new store with the given options
func New(options ...Option) (*AssetStore, error) {
	s := &AssetStore{
		uploaders:      NewUploaders(),
		knownProviders: make(map[ProviderID]struct{}),
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		fetchTimeout:   DefaultFetchTimeout,
		uploadTimeout:  DefaultUploadTimeout,
	}

	for _, option := range options {
		option(s)
	}

	if s.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.fetchTimeout <= 0 || s.uploadTimeout <= 0 {
		return nil, fmt.Errorf("fetch and upload timeouts must be positive")
	}
	for p := range s.knownProviders {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if s.events == nil {
		s.events = NewNoopEventSink()
	}
	if s.fetcher == nil {
		s.fetcher = NewHTTPFetcher(s.blobs, WithFetcherLogger(s.logger), WithFetcherClock(s.now))
	}

	s.claims = newInflight()
	s.registry = &Registry{
		repo:   s.repo,
		blobs:  s.blobs,
		events: s.events,
		logger: s.logger.With("component", "registry"),
		now:    s.now,
		known:  s.knownProviders,
	}
	s.evictor = &Evictor{
		repo:     s.repo,
		registry: s.registry,
		claims:   s.claims,
		blobs:    s.blobs,
		events:   s.events,
		logger:   s.logger.With("component", "evictor"),
		capacity: s.capacityBytes,
	}
	var transfers *semaphore.Weighted
	if s.maxTransfers > 0 {
		transfers = semaphore.NewWeighted(s.maxTransfers)
	}
	s.cache = &UploadCache{
		registry:      s.registry,
		claims:        s.claims,
		fetcher:       s.fetcher,
		uploaders:     s.uploaders,
		blobs:         s.blobs,
		evictor:       s.evictor,
		logger:        s.logger.With("component", "upload_cache"),
		fetchTimeout:  s.fetchTimeout,
		uploadTimeout: s.uploadTimeout,
		transfers:     transfers,
		capacity:      s.capacityBytes,
		verify:        s.verifyCached,
	}
	s.lineage = &LineageGraph{
		repo:   s.repo,
		assets: s.registry,
		logger: s.logger.With("component", "lineage"),
		now:    s.now,
	}
	s.branches = &BranchGraph{
		repo:   s.repo,
		assets: s.registry,
		logger: s.logger.With("component", "branches"),
		now:    s.now,
	}

	return s, nil
}

// Registry returns the asset registry.
func (s *AssetStore) Registry() *Registry { return s.registry }

// UploadCache returns the provider upload cache.
func (s *AssetStore) UploadCache() *UploadCache { return s.cache }

// Lineage returns the lineage graph.
func (s *AssetStore) Lineage() *LineageGraph { return s.lineage }

// Branches returns the branch graph.
func (s *AssetStore) Branches() *BranchGraph { return s.branches }

// Evictor returns the eviction policy.
func (s *AssetStore) Evictor() *Evictor { return s.evictor }

// Uploaders returns the provider uploader table.
func (s *AssetStore) Uploaders() *Uploaders { return s.uploaders }

// Recover resets rows a crashed process left in fetching back to absent. Call
// it once at startup before serving traffic.
func (s *AssetStore) Recover(ctx context.Context) (int, error) {
	stuck, err := s.repo.ListAssetsByCacheStatus(ctx, CacheStatusFetching)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, asset := range stuck {
		if s.claims.claimed(asset.ID) {
			continue
		}
		_, err := s.registry.UpdateCacheState(ctx, asset.ID, CacheState{Status: CacheStatusAbsent})
		if errors.Is(err, ErrInvalidCacheTransition) {
			continue
		}
		if err != nil {
			return reset, err
		}
		reset++
	}
	if reset > 0 {
		s.logger.InfoContext(ctx, "reset interrupted fetches", "count", reset)
	}
	return reset, nil
}
