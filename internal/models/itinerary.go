package models

// Itinerary is the typed roadbook content of a trip. It is snapshotted into
// a booking at creation time and rendered by the roadbook view.
type Itinerary struct {
	SchemaVersion int    `json:"schema_version"`
	Name          string `json:"name"`
	Title         string `json:"title"`
	CoverImage    string `json:"cover_image,omitempty"`
	MapImage      string `json:"map_image,omitempty"`
	Days          []Day  `json:"days"`
}

// Day is one stage of the itinerary.
type Day struct {
	Day         int      `json:"day"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	DistanceKM  int      `json:"distance_km,omitempty"`
	HotelID     string   `json:"hotel_id,omitempty"`
	Hotel       *Hotel   `json:"hotel,omitempty"`
	POIIDs      []string `json:"poi_ids,omitempty"`
	POIs        []POI    `json:"pois,omitempty"`
}

// HasDays reports whether the itinerary carries any day content.
func (it *Itinerary) HasDays() bool {
	return it != nil && len(it.Days) > 0
}

// DisplayTitle prefers the title and falls back to the name.
func (it *Itinerary) DisplayTitle() string {
	if it == nil {
		return ""
	}
	if it.Title != "" {
		return it.Title
	}
	return it.Name
}

// Clone returns a deep copy so enrichment never mutates a stored snapshot.
func (it *Itinerary) Clone() *Itinerary {
	if it == nil {
		return nil
	}
	cp := *it
	if it.Days != nil {
		cp.Days = make([]Day, len(it.Days))
		for i, d := range it.Days {
			cp.Days[i] = d.clone()
		}
	}
	return &cp
}

func (d Day) clone() Day {
	if d.Hotel != nil {
		h := *d.Hotel
		d.Hotel = &h
	}
	if d.POIIDs != nil {
		d.POIIDs = append([]string(nil), d.POIIDs...)
	}
	if d.POIs != nil {
		d.POIs = append([]POI(nil), d.POIs...)
	}
	return d
}

// Redacted returns a copy stripped of anything that would spoil the route
// before the reveal date: day descriptions, hotels and points of interest.
func (it *Itinerary) Redacted() *Itinerary {
	if it == nil {
		return nil
	}
	cp := it.Clone()
	cp.MapImage = ""
	for i := range cp.Days {
		cp.Days[i].Description = ""
		cp.Days[i].HotelID = ""
		cp.Days[i].Hotel = nil
		cp.Days[i].POIIDs = nil
		cp.Days[i].POIs = nil
	}
	return cp
}

// Placeholder builds the degraded itinerary shown when nothing resolves.
func Placeholder(name string) *Itinerary {
	title := name
	if title == "" {
		title = PlaceholderTitle
	}
	return &Itinerary{
		SchemaVersion: ItinerarySchemaVersion,
		Name:          name,
		Title:         title,
		Days:          []Day{},
	}
}
