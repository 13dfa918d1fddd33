package models

import "time"

// Deposit policy types.
const (
	DepositPercentage     = "percentage"
	DepositFixedTotal     = "fixed_total"
	DepositFixedPerPerson = "fixed_per_person"
)

// DepositPolicy is the rule used to compute the upfront amount due.
// For percentage policies Value is a whole percent; otherwise it is minor units.
type DepositPolicy struct {
	Type  string `json:"type" yaml:"type"`
	Value int64  `json:"value" yaml:"value"`
}

// DefaultDepositPolicy is applied to published trips that carry none.
func DefaultDepositPolicy() DepositPolicy {
	return DepositPolicy{Type: DepositFixedPerPerson, Value: 15000}
}

// PublishedTrip is a public catalog entry bookable through checkout.
type PublishedTrip struct {
	Slug           string        `json:"slug"`
	TenantID       string        `json:"tenant_id"`
	Title          string        `json:"title"`
	OriginalTripID string        `json:"original_trip_id,omitempty"`
	PricePerPerson int64         `json:"price_per_person"`
	Currency       string        `json:"currency,omitempty"`
	DepositPolicy  DepositPolicy `json:"deposit_policy"`
	StartDate      *time.Time    `json:"start_date,omitempty"`
	EndDate        *time.Time    `json:"end_date,omitempty"`
	IsActive       bool          `json:"is_active"`
	Itinerary      *Itinerary    `json:"itinerary,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// InternalTrip is the organizer-owned working copy of a trip.
type InternalTrip struct {
	TenantID    string     `json:"tenant_id"`
	OwnerUserID string     `json:"owner_user_id"`
	TripID      string     `json:"trip_id"`
	Itinerary   *Itinerary `json:"itinerary,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Hotel struct {
	ID          string `json:"hotel_id"`
	TenantID    string `json:"tenant_id"`
	OwnerUserID string `json:"owner_user_id,omitempty"`
	Name        string `json:"name"`
	City        string `json:"city,omitempty"`
	Address     string `json:"address,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Website     string `json:"website,omitempty"`
	HasParking  bool   `json:"has_parking"`
}

// POI is a point of interest along the route.
type POI struct {
	ID          string  `json:"poi_id"`
	TenantID    string  `json:"tenant_id"`
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lng         float64 `json:"lng,omitempty"`
}
