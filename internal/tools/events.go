package tools

import "context"

// Event is a single event returned by search_events.
type Event struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	StartDate   string  `json:"startDate"`
	EndDate     string  `json:"endDate"`
	Venue       string  `json:"venue"`
	Price       float64 `json:"price,omitempty"`
	Website     string  `json:"website,omitempty"`
	EventType   string  `json:"eventType"`
}

// handleSearchEvents returns deterministic demo listings scoped to the
// requested location and dates.
func (r *Registry) handleSearchEvents(ctx context.Context, args map[string]any) (any, error) {
	location := stringArg(args, "location")
	startDate := stringArg(args, "startDate")
	endDate := stringArg(args, "endDate")
	eventType := stringArg(args, "eventType")
	if eventType == "" {
		eventType = "conference"
	}

	return []Event{
		{
			ID:          "event_1",
			Name:        "Tech Conference 2024",
			Description: "Annual technology conference featuring the latest innovations",
			Location:    location,
			StartDate:   startDate,
			EndDate:     endDate,
			Venue:       "Convention Center",
			Price:       299,
			Website:     "https://techconf2024.example.com",
			EventType:   eventType,
		},
		{
			ID:          "event_2",
			Name:        "Local Music Festival",
			Description: "Outdoor music festival featuring local and international artists",
			Location:    location,
			StartDate:   startDate,
			EndDate:     endDate,
			Venue:       "City Park",
			Price:       89,
			Website:     "https://musicfest.example.com",
			EventType:   "concert",
		},
		{
			ID:          "event_3",
			Name:        "Food & Wine Expo",
			Description: "Culinary celebration with food tastings and wine pairings",
			Location:    location,
			StartDate:   startDate,
			EndDate:     endDate,
			Venue:       "Exhibition Hall",
			Price:       45,
			Website:     "https://foodwineexpo.example.com",
			EventType:   "expo",
		},
	}, nil
}
