package tools

import (
	"context"
	"fmt"
)

// Flight is a single flight option returned by search_flights.
type Flight struct {
	ID            string  `json:"id"`
	Airline       string  `json:"airline"`
	FlightNumber  string  `json:"flightNumber"`
	Origin        string  `json:"origin"`
	Destination   string  `json:"destination"`
	DepartureTime string  `json:"departureTime"`
	ArrivalTime   string  `json:"arrivalTime"`
	Duration      string  `json:"duration"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	Stops         int     `json:"stops"`
	Aircraft      string  `json:"aircraft"`
	BookingClass  string  `json:"bookingClass"`
}

// handleSearchFlights returns deterministic demo inventory. A real
// deployment would swap this for an Amadeus or Duffel integration; the
// shape of the result is what matters to the conversation.
func (r *Registry) handleSearchFlights(ctx context.Context, args map[string]any) (any, error) {
	origin := stringArg(args, "origin")
	destination := stringArg(args, "destination")
	departureDate := stringArg(args, "departureDate")
	returnDate := stringArg(args, "returnDate")
	passengers := numberArg(args, "passengers")
	if passengers < 1 {
		passengers = 1
	}

	outbound := []Flight{
		{
			ID:            "flight_1",
			Airline:       "United Airlines",
			FlightNumber:  "UA 1234",
			Origin:        origin,
			Destination:   destination,
			DepartureTime: departureDate + "T08:00:00Z",
			ArrivalTime:   departureDate + "T12:30:00Z",
			Duration:      "4h 30m",
			Price:         450 * passengers,
			Currency:      "USD",
			Stops:         0,
			Aircraft:      "Boeing 737",
			BookingClass:  "Economy",
		},
		{
			ID:            "flight_2",
			Airline:       "Delta Air Lines",
			FlightNumber:  "DL 5678",
			Origin:        origin,
			Destination:   destination,
			DepartureTime: departureDate + "T14:15:00Z",
			ArrivalTime:   departureDate + "T18:45:00Z",
			Duration:      "4h 30m",
			Price:         520 * passengers,
			Currency:      "USD",
			Stops:         0,
			Aircraft:      "Airbus A320",
			BookingClass:  "Economy",
		},
		{
			ID:            "flight_3",
			Airline:       "American Airlines",
			FlightNumber:  "AA 9012",
			Origin:        origin,
			Destination:   destination,
			DepartureTime: departureDate + "T10:30:00Z",
			ArrivalTime:   departureDate + "T16:20:00Z",
			Duration:      "5h 50m",
			Price:         380 * passengers,
			Currency:      "USD",
			Stops:         1,
			Aircraft:      "Boeing 777",
			BookingClass:  "Economy",
		},
	}

	if returnDate == "" {
		return outbound, nil
	}

	departures := []string{"09:00:00", "15:30:00", "11:45:00"}
	arrivals := []string{"13:30:00", "20:00:00", "17:35:00"}
	results := outbound
	for i, f := range outbound {
		back := f
		back.ID = fmt.Sprintf("return_flight_%d", i+1)
		back.Origin = destination
		back.Destination = origin
		back.DepartureTime = returnDate + "T" + departures[i] + "Z"
		back.ArrivalTime = returnDate + "T" + arrivals[i] + "Z"
		results = append(results, back)
	}
	return results, nil
}
