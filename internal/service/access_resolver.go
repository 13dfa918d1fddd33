package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"roadbook/internal/domain"
	"roadbook/internal/metrics"
	"roadbook/internal/models"

	"github.com/rs/zerolog"
)

// ContentStrategy resolves itinerary content for a booking.
// ok=false hands over to the next strategy.
type ContentStrategy struct {
	Source  string
	Resolve func(ctx context.Context, b *models.Booking) (it *models.Itinerary, ok bool)
}

// AccessLookup is the part of the store the resolver reads.
type AccessLookup interface {
	GetBooking(ctx context.Context, tenantID, id string) (*models.Booking, error)
	GetBookingByAccessToken(ctx context.Context, token string) (*models.Booking, error)
	GetParticipantByInvitationToken(ctx context.Context, token string) (*models.Participant, error)
}

type AccessResolverService struct {
	repo       AccessLookup
	catalog    domain.CatalogRepository
	cache      domain.CacheRepository
	cacheTTL   time.Duration
	gate       RevealGate
	strategies []ContentStrategy
	logger     *zerolog.Logger
	now        func() time.Time
}

// NewAccessResolverService builds the resolver with the default strategy chain:
// snapshot, internal trip, published trip, slug recovery, degraded placeholder.
// cache may be nil.
func NewAccessResolverService(repo AccessLookup, catalog domain.CatalogRepository, cache domain.CacheRepository, cacheTTL time.Duration, gate RevealGate, logger *zerolog.Logger) *AccessResolverService {
	if cacheTTL <= 0 {
		cacheTTL = models.DefaultItineraryCacheTTL * time.Second
	}
	s := &AccessResolverService{
		repo:     repo,
		catalog:  catalog,
		cache:    cache,
		cacheTTL: cacheTTL,
		gate:     gate,
		logger:   logger,
		now:      time.Now,
	}
	s.strategies = []ContentStrategy{
		{Source: models.SourceSnapshot, Resolve: s.fromSnapshot},
		{Source: models.SourceInternalTrip, Resolve: s.fromInternalTrip},
		{Source: models.SourcePublishedTrip, Resolve: s.fromPublishedTrip},
		{Source: models.SourceSlugRecovery, Resolve: s.fromSlugRecovery},
		{Source: models.SourceDegraded, Resolve: degraded},
	}
	return s
}

// Resolve maps an invitation or access token to what its holder may see.
// Only an unknown link fails; missing content degrades to a placeholder.
func (s *AccessResolverService) Resolve(ctx context.Context, token string) (*models.RoadbookView, error) {
	b, p, err := s.lookup(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}

	view := models.NewRoadbookView(b, p)
	it, source := s.resolveContent(ctx, b)
	view.Source = source
	view.IsRevealed = s.gate.IsRevealed(b, s.now())
	view.RevealDate = s.gate.RevealDate(b)

	if view.IsRevealed {
		view.Itinerary = s.enrich(ctx, b, it)
	} else {
		view.Itinerary = it.Redacted()
	}

	metrics.IncAccessResolution(source)
	return view, nil
}

// lookup tries the participant invitation first, then the booking access token.
func (s *AccessResolverService) lookup(ctx context.Context, token string) (*models.Booking, *models.Participant, error) {
	if token == "" {
		return nil, nil, domain.ErrLinkNotFound
	}

	p, err := s.repo.GetParticipantByInvitationToken(ctx, token)
	switch {
	case err == nil:
		b, err := s.repo.GetBooking(ctx, p.TenantID, p.BookingID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, domain.ErrLinkNotFound
		}
		if err != nil {
			return nil, nil, err
		}
		return b, p, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, nil, err
	}

	b, err := s.repo.GetBookingByAccessToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, domain.ErrLinkNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return b, nil, nil
}

// resolveContent runs the strategies in order; the last one always succeeds.
func (s *AccessResolverService) resolveContent(ctx context.Context, b *models.Booking) (*models.Itinerary, string) {
	for _, strategy := range s.strategies {
		if it, ok := strategy.Resolve(ctx, b); ok {
			return it, strategy.Source
		}
	}
	return degradedItinerary(b), models.SourceDegraded
}

func (s *AccessResolverService) fromSnapshot(_ context.Context, b *models.Booking) (*models.Itinerary, bool) {
	if !b.TripSnapshot.HasDays() {
		return nil, false
	}
	return b.TripSnapshot.Clone(), true
}

func (s *AccessResolverService) fromInternalTrip(ctx context.Context, b *models.Booking) (*models.Itinerary, bool) {
	if b.OrganizerUserID == "" || b.TripTemplateID == "" {
		return nil, false
	}
	key := fmt.Sprintf("internal:%s:%s:%s", b.TenantID, b.OrganizerUserID, b.TripTemplateID)
	return s.cached(ctx, key, func() (*models.Itinerary, error) {
		trip, err := s.catalog.GetInternalTrip(ctx, b.TenantID, b.OrganizerUserID, b.TripTemplateID)
		if err != nil {
			return nil, err
		}
		return trip.Itinerary, nil
	})
}

func (s *AccessResolverService) fromPublishedTrip(ctx context.Context, b *models.Booking) (*models.Itinerary, bool) {
	for _, slug := range uniqueNonEmpty(b.TripTemplateID, b.TripSlug) {
		if it, ok := s.publishedBySlug(ctx, b.TenantID, slug); ok {
			return it, true
		}
	}
	return nil, false
}

// fromSlugRecovery re-derives a slug from the stored trip name.
func (s *AccessResolverService) fromSlugRecovery(ctx context.Context, b *models.Booking) (*models.Itinerary, bool) {
	name := b.TripTitle
	if b.TripSnapshot != nil && b.TripSnapshot.Name != "" {
		name = b.TripSnapshot.Name
	}
	slug := Slugify(name)
	if slug == "" || slug == b.TripTemplateID || slug == b.TripSlug {
		return nil, false
	}
	return s.publishedBySlug(ctx, b.TenantID, slug)
}

func (s *AccessResolverService) publishedBySlug(ctx context.Context, tenantID, slug string) (*models.Itinerary, bool) {
	key := fmt.Sprintf("published:%s:%s", tenantID, slug)
	return s.cached(ctx, key, func() (*models.Itinerary, error) {
		trip, err := s.catalog.GetPublishedTrip(ctx, tenantID, slug)
		if err != nil {
			return nil, err
		}
		return trip.Itinerary, nil
	})
}

func degraded(_ context.Context, b *models.Booking) (*models.Itinerary, bool) {
	return degradedItinerary(b), true
}

func degradedItinerary(b *models.Booking) *models.Itinerary {
	name := ""
	if b.TripSnapshot != nil {
		name = b.TripSnapshot.Name
	}
	return models.Placeholder(name)
}

// cached serves live catalog content through the itinerary cache.
// Cache and catalog failures are logged and count as a miss.
func (s *AccessResolverService) cached(ctx context.Context, key string, load func() (*models.Itinerary, error)) (*models.Itinerary, bool) {
	if s.cache != nil {
		it, err := s.cache.GetItinerary(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Itinerary cache read failed")
		} else if it.HasDays() {
			return it, true
		}
	}

	it, err := load()
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", key).Msg("Catalog lookup failed")
		}
		return nil, false
	}
	if !it.HasDays() {
		return nil, false
	}

	if s.cache != nil {
		if err := s.cache.SetItinerary(ctx, key, it, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Itinerary cache write failed")
		}
	}
	return it.Clone(), true
}

// enrich attaches hotel and POI records to each day of a copy of it.
// Missing records are skipped.
func (s *AccessResolverService) enrich(ctx context.Context, b *models.Booking, it *models.Itinerary) *models.Itinerary {
	out := it.Clone()
	hotels := make(map[string]*models.Hotel)
	pois := make(map[string]*models.POI)

	for i := range out.Days {
		day := &out.Days[i]
		if day.HotelID != "" && day.Hotel == nil {
			hotel, seen := hotels[day.HotelID]
			if !seen {
				hotel = s.lookupHotel(ctx, b, day.HotelID)
				hotels[day.HotelID] = hotel
			}
			day.Hotel = hotel
		}

		if len(day.POIIDs) > 0 && len(day.POIs) == 0 {
			for _, id := range day.POIIDs {
				poi, seen := pois[id]
				if !seen {
					poi = s.lookupPOI(ctx, b, id)
					pois[id] = poi
				}
				if poi != nil {
					day.POIs = append(day.POIs, *poi)
				}
			}
		}
	}
	return out
}

func (s *AccessResolverService) lookupHotel(ctx context.Context, b *models.Booking, id string) *models.Hotel {
	hotel, err := s.catalog.GetHotel(ctx, b.TenantID, b.OrganizerUserID, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn().Err(err).Str("hotel_id", id).Msg("Hotel lookup failed")
		}
		return nil
	}
	return hotel
}

func (s *AccessResolverService) lookupPOI(ctx context.Context, b *models.Booking, id string) *models.POI {
	poi, err := s.catalog.GetPOI(ctx, b.TenantID, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn().Err(err).Str("poi_id", id).Msg("POI lookup failed")
		}
		return nil
	}
	return poi
}

func uniqueNonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
