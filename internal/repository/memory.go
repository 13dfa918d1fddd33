package repository

import (
	"context"
	"sync"
	"time"

	"roadbook/internal/models"
)

type MemoryCacheRepository struct {
	mu          sync.Mutex
	itineraries map[string]itineraryEntry
	rateLimits  map[string]*rateLimitEntry
	now         func() time.Time
}

type itineraryEntry struct {
	itinerary *models.Itinerary
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryCacheRepository() *MemoryCacheRepository {
	return &MemoryCacheRepository{
		itineraries: make(map[string]itineraryEntry),
		rateLimits:  make(map[string]*rateLimitEntry),
		now:         time.Now,
	}
}

func (r *MemoryCacheRepository) GetItinerary(_ context.Context, key string) (*models.Itinerary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.itineraries[key]
	if !ok {
		return nil, nil
	}
	if r.now().After(entry.expiresAt) {
		delete(r.itineraries, key)
		return nil, nil
	}
	return entry.itinerary.Clone(), nil
}

func (r *MemoryCacheRepository) SetItinerary(_ context.Context, key string, it *models.Itinerary, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.itineraries[key] = itineraryEntry{itinerary: it.Clone(), expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *MemoryCacheRepository) DeleteItinerary(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.itineraries, key)
	return nil
}

func (r *MemoryCacheRepository) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++

	return entry.count <= limit, nil
}
