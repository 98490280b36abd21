package traffic

import "time"

// Category selects which slice of the event feed a fetch returns.
type Category string

const (
	// CategoryAccidents returns only accident-classified incidents.
	CategoryAccidents Category = "accidents"
	// CategoryEvents returns everything except accidents: construction,
	// closures, and other roadway events.
	CategoryEvents Category = "events"
)

// Incident is one roadway incident mapped from a raw AZ 511 event record.
type Incident struct {
	EventType   string
	Description string
	Roadway     string
	Direction   string
	Lanes       string
	CrossStreet string
	Status      string
	Latitude    float64
	Longitude   float64
	ReportedAt  time.Time
}

// HasCoordinates reports whether the incident carries a usable position.
// AZ 511 uses zero lat/lon for records without one.
func (i Incident) HasCoordinates() bool {
	return i.Latitude != 0 || i.Longitude != 0
}

// rawEvent mirrors the AZ 511 API v2 event payload.
type rawEvent struct {
	ID                int     `json:"ID"`
	EventType         string  `json:"EventType"`
	Description       string  `json:"Description"`
	RoadwayName       string  `json:"RoadwayName"`
	DirectionOfTravel string  `json:"DirectionOfTravel"`
	LanesAffected     string  `json:"LanesAffected"`
	Location          string  `json:"Location"`
	EventStatus       string  `json:"EventStatus"`
	Latitude          float64 `json:"Latitude"`
	Longitude         float64 `json:"Longitude"`
	LastUpdated       string  `json:"LastUpdated"`
}
