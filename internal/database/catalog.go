package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"roadbook/internal/models"
)

func decodeItinerary(raw sql.NullString) (*models.Itinerary, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var it models.Itinerary
	if err := json.Unmarshal([]byte(raw.String), &it); err != nil {
		return nil, fmt.Errorf("failed to decode itinerary: %w", err)
	}
	return &it, nil
}

func encodeItinerary(it *models.Itinerary) (sql.NullString, error) {
	if it == nil {
		return sql.NullString{}, nil
	}
	if it.SchemaVersion == 0 {
		it.SchemaVersion = models.ItinerarySchemaVersion
	}
	return marshalJSON(it)
}

func (db *DB) UpsertPublishedTrip(ctx context.Context, trip *models.PublishedTrip) error {
	itinerary, err := encodeItinerary(trip.Itinerary)
	if err != nil {
		return err
	}
	trip.UpdatedAt = time.Now().UTC()
	query := `INSERT INTO published_trips (tenant_id, slug, title, original_trip_id, price_per_person, currency,
                deposit_type, deposit_value, start_date, end_date, is_active, itinerary, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(tenant_id, slug) DO UPDATE SET
                title = excluded.title,
                original_trip_id = excluded.original_trip_id,
                price_per_person = excluded.price_per_person,
                currency = excluded.currency,
                deposit_type = excluded.deposit_type,
                deposit_value = excluded.deposit_value,
                start_date = excluded.start_date,
                end_date = excluded.end_date,
                is_active = excluded.is_active,
                itinerary = excluded.itinerary,
                updated_at = excluded.updated_at`
	_, err = db.ExecContext(ctx, query,
		trip.TenantID, trip.Slug, trip.Title, trip.OriginalTripID, trip.PricePerPerson, trip.Currency,
		trip.DepositPolicy.Type, trip.DepositPolicy.Value, trip.StartDate, trip.EndDate, trip.IsActive,
		itinerary, trip.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert published trip: %w", err)
	}
	return nil
}

func (db *DB) GetPublishedTrip(ctx context.Context, tenantID, slug string) (*models.PublishedTrip, error) {
	var (
		trip      models.PublishedTrip
		itinerary sql.NullString
	)
	query := `SELECT tenant_id, slug, title, original_trip_id, price_per_person, currency,
                deposit_type, deposit_value, start_date, end_date, is_active, itinerary, updated_at
              FROM published_trips WHERE tenant_id = ? AND slug = ?`
	err := db.QueryRowContext(ctx, query, tenantID, slug).Scan(
		&trip.TenantID, &trip.Slug, &trip.Title, &trip.OriginalTripID, &trip.PricePerPerson, &trip.Currency,
		&trip.DepositPolicy.Type, &trip.DepositPolicy.Value, &trip.StartDate, &trip.EndDate, &trip.IsActive,
		&itinerary, &trip.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "published trip")
	}
	if trip.Itinerary, err = decodeItinerary(itinerary); err != nil {
		return nil, err
	}
	return &trip, nil
}

func (db *DB) UpsertInternalTrip(ctx context.Context, trip *models.InternalTrip) error {
	itinerary, err := encodeItinerary(trip.Itinerary)
	if err != nil {
		return err
	}
	trip.UpdatedAt = time.Now().UTC()
	query := `INSERT INTO trips (tenant_id, owner_user_id, trip_id, itinerary, updated_at) VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(tenant_id, owner_user_id, trip_id) DO UPDATE SET
                itinerary = excluded.itinerary, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, trip.TenantID, trip.OwnerUserID, trip.TripID, itinerary, trip.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert trip: %w", err)
	}
	return nil
}

func (db *DB) GetInternalTrip(ctx context.Context, tenantID, ownerUserID, tripID string) (*models.InternalTrip, error) {
	var (
		trip      models.InternalTrip
		itinerary sql.NullString
	)
	query := `SELECT tenant_id, owner_user_id, trip_id, itinerary, updated_at
              FROM trips WHERE tenant_id = ? AND owner_user_id = ? AND trip_id = ?`
	err := db.QueryRowContext(ctx, query, tenantID, ownerUserID, tripID).Scan(
		&trip.TenantID, &trip.OwnerUserID, &trip.TripID, &itinerary, &trip.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "trip")
	}
	if trip.Itinerary, err = decodeItinerary(itinerary); err != nil {
		return nil, err
	}
	return &trip, nil
}

func (db *DB) UpsertHotel(ctx context.Context, hotel *models.Hotel) error {
	data, err := marshalJSON(hotel)
	if err != nil {
		return fmt.Errorf("failed to encode hotel: %w", err)
	}
	query := `INSERT INTO hotels (tenant_id, hotel_id, owner_user_id, data) VALUES (?, ?, ?, ?)
              ON CONFLICT(tenant_id, hotel_id) DO UPDATE SET owner_user_id = excluded.owner_user_id, data = excluded.data`
	if _, err := db.ExecContext(ctx, query, hotel.TenantID, hotel.ID, hotel.OwnerUserID, data); err != nil {
		return fmt.Errorf("failed to upsert hotel: %w", err)
	}
	return nil
}

// GetHotel returns a tenant's hotel. An empty ownerUserID matches any owner.
func (db *DB) GetHotel(ctx context.Context, tenantID, ownerUserID, hotelID string) (*models.Hotel, error) {
	var data string
	query := `SELECT data FROM hotels WHERE tenant_id = ? AND hotel_id = ? AND (? = '' OR owner_user_id = ?)`
	if err := db.QueryRowContext(ctx, query, tenantID, hotelID, ownerUserID, ownerUserID).Scan(&data); err != nil {
		return nil, notFound(err, "hotel")
	}
	var hotel models.Hotel
	if err := json.Unmarshal([]byte(data), &hotel); err != nil {
		return nil, fmt.Errorf("failed to decode hotel %s: %w", hotelID, err)
	}
	return &hotel, nil
}

func (db *DB) UpsertPOI(ctx context.Context, poi *models.POI) error {
	data, err := marshalJSON(poi)
	if err != nil {
		return fmt.Errorf("failed to encode poi: %w", err)
	}
	query := `INSERT INTO pois (tenant_id, poi_id, data) VALUES (?, ?, ?)
              ON CONFLICT(tenant_id, poi_id) DO UPDATE SET data = excluded.data`
	if _, err := db.ExecContext(ctx, query, poi.TenantID, poi.ID, data); err != nil {
		return fmt.Errorf("failed to upsert poi: %w", err)
	}
	return nil
}

func (db *DB) GetPOI(ctx context.Context, tenantID, poiID string) (*models.POI, error) {
	var data string
	if err := db.QueryRowContext(ctx, `SELECT data FROM pois WHERE tenant_id = ? AND poi_id = ?`, tenantID, poiID).Scan(&data); err != nil {
		return nil, notFound(err, "poi")
	}
	var poi models.POI
	if err := json.Unmarshal([]byte(data), &poi); err != nil {
		return nil, fmt.Errorf("failed to decode poi %s: %w", poiID, err)
	}
	return &poi, nil
}
