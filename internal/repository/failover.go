package repository

import (
	"context"
	"sync/atomic"
	"time"

	"roadbook/internal/domain"
	"roadbook/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCacheRepository uses the primary cache until it errors, then serves
// from the fallback and retries the primary once a minute.
type FailoverCacheRepository struct {
	primary   domain.CacheRepository
	fallback  domain.CacheRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverCacheRepository(primary, fallback domain.CacheRepository, logger *zerolog.Logger) *FailoverCacheRepository {
	return &FailoverCacheRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the call should go to the primary.
func (r *FailoverCacheRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	// Try to recover after 1 minute
	last := time.Unix(0, r.lastCheck.Load())
	if time.Since(last) > recoveryInterval {
		r.lastCheck.Store(time.Now().UnixNano())
		return true
	}
	return false
}

func (r *FailoverCacheRepository) primaryFailed(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary cache failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverCacheRepository) primaryOK() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary cache recovered")
	}
}

func (r *FailoverCacheRepository) GetItinerary(ctx context.Context, key string) (*models.Itinerary, error) {
	if r.usePrimary() {
		it, err := r.primary.GetItinerary(ctx, key)
		if err == nil {
			r.primaryOK()
			return it, nil
		}
		r.primaryFailed(err)
	}
	return r.fallback.GetItinerary(ctx, key)
}

func (r *FailoverCacheRepository) SetItinerary(ctx context.Context, key string, it *models.Itinerary, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.SetItinerary(ctx, key, it, ttl)
		if err == nil {
			r.primaryOK()
			return nil
		}
		r.primaryFailed(err)
	}
	return r.fallback.SetItinerary(ctx, key, it, ttl)
}

func (r *FailoverCacheRepository) DeleteItinerary(ctx context.Context, key string) error {
	// удаляем в обоих, чтобы после восстановления не отдать устаревшие данные
	fbErr := r.fallback.DeleteItinerary(ctx, key)
	if r.usePrimary() {
		err := r.primary.DeleteItinerary(ctx, key)
		if err == nil {
			r.primaryOK()
			return fbErr
		}
		r.primaryFailed(err)
	}
	return fbErr
}

func (r *FailoverCacheRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.primaryOK()
			return allowed, nil
		}
		r.primaryFailed(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
