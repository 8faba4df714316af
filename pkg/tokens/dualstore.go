package tokens

import (
	"context"
	"errors"
	"log/slog"
)

// DualStore combines a durable store (source of truth) with a volatile cache
// using a write-through policy: saves go durable-first then cache, reads hit
// the cache and fall back to the durable store, repopulating the cache on a
// miss. Cache failures are logged and absorbed; durable failures are
// returned.
type DualStore struct {
	durable Store
	cache   Store
	logger  *slog.Logger
}

// DualOption configures a DualStore.
type DualOption func(*DualStore)

// WithDualLogger sets the logger for cache-layer warnings.
func WithDualLogger(logger *slog.Logger) DualOption {
	return func(s *DualStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDualStore creates a write-through store pair.
func NewDualStore(durable, cache Store, opts ...DualOption) *DualStore {
	s := &DualStore{
		durable: durable,
		cache:   cache,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Durable exposes the source-of-truth store. The refresher reads the refresh
// token from here directly so a stale cache entry can never feed a refresh.
func (s *DualStore) Durable() Store {
	return s.durable
}

// Get implements Store. Cache first, durable on miss.
func (s *DualStore) Get(ctx context.Context) (*Token, error) {
	token, err := s.cache.Get(ctx)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrNoToken) {
		s.logger.Warn("token cache read failed, falling back to durable store", "error", err)
	}

	token, err = s.durable.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cacheErr := s.cache.Save(ctx, token); cacheErr != nil {
		s.logger.Warn("failed to repopulate token cache", "error", cacheErr)
	}
	return token, nil
}

// Save implements Store. The durable write must succeed; the cache write is
// best-effort.
func (s *DualStore) Save(ctx context.Context, token *Token) error {
	if err := s.durable.Save(ctx, token); err != nil {
		return err
	}
	if err := s.cache.Save(ctx, token); err != nil {
		s.logger.Warn("failed to write token cache", "error", err)
	}
	return nil
}

// Clear implements Store. Both layers are cleared; errors are joined so a
// partial purge is visible to the caller.
func (s *DualStore) Clear(ctx context.Context) error {
	return errors.Join(s.durable.Clear(ctx), s.cache.Clear(ctx))
}
