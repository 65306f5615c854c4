package signer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"video_archiver/internal/domain"
	"video_archiver/internal/metrics"
)

type KeySource interface {
	FetchKeys(ctx context.Context) (Keys, error)
}

// Signer signs request parameters with a lazily refreshed mixin key.
// The key lives in memory only; a restart fetches it again.
type Signer struct {
	source KeySource
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache *KeyCache
}

func New(source KeySource, ttl time.Duration, logger *slog.Logger) *Signer {
	return &Signer{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "signer"),
	}
}

// Sign returns params augmented with wts and w_rid. Any failure to obtain
// the keys is reported as domain.ErrSigningUnavailable.
func (s *Signer) Sign(ctx context.Context, params url.Values) (url.Values, error) {
	mixinKey, err := s.mixinKey(ctx)
	if err != nil {
		return nil, err
	}
	return Sign(params, mixinKey, s.now()), nil
}

// Invalidate drops the cached key so the next Sign refetches it.
func (s *Signer) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
	s.logger.Info("signing key invalidated")
}

func (s *Signer) mixinKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cache.Fresh(now) {
		return s.cache.MixinKey, nil
	}

	keys, err := s.source.FetchKeys(ctx)
	if err != nil {
		metrics.KeyRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: fetch keys: %w", domain.ErrSigningUnavailable, err)
	}
	if len(keys.ImgKey)+len(keys.SubKey) < len(mixinKeyEncTab) {
		metrics.KeyRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: keys too short (%d+%d chars)",
			domain.ErrSigningUnavailable, len(keys.ImgKey), len(keys.SubKey))
	}

	s.cache = newKeyCache(keys, now, s.ttl)
	metrics.KeyRefreshes.WithLabelValues("ok").Inc()
	s.logger.Debug("signing key refreshed", "expires_at", s.cache.ExpiresAt)

	return s.cache.MixinKey, nil
}
