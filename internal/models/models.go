package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TravelMode is a Directions API travel mode
type TravelMode string

const (
	ModeTransit   TravelMode = "transit"
	ModeWalking   TravelMode = "walking"
	ModeBicycling TravelMode = "bicycling"
	ModeDriving   TravelMode = "driving"
)

// Channel names the response stream a request is answered on.
// The main channel carries full transit itineraries, side channels only durations.
type Channel string

const (
	ChannelMain  Channel = "main"
	ChannelWalk  Channel = "walk"
	ChannelCycle Channel = "cycle"
	ChannelDrive Channel = "drive"
)

// SideChannels lists the side channels in request order
var SideChannels = []Channel{ChannelWalk, ChannelCycle, ChannelDrive}

// Mode returns the travel mode requested on this channel
func (c Channel) Mode() TravelMode {
	switch c {
	case ChannelWalk:
		return ModeWalking
	case ChannelCycle:
		return ModeBicycling
	case ChannelDrive:
		return ModeDriving
	default:
		return ModeTransit
	}
}

// Valid reports whether c is one of the known channels
func (c Channel) Valid() bool {
	switch c {
	case ChannelMain, ChannelWalk, ChannelCycle, ChannelDrive:
		return true
	}
	return false
}

// Directions API status codes
const (
	StatusOK              = "OK"
	StatusNotFound        = "NOT_FOUND"
	StatusZeroResults     = "ZERO_RESULTS"
	StatusOverQueryLimit  = "OVER_QUERY_LIMIT"
	StatusRequestDenied   = "REQUEST_DENIED"
	StatusInvalidRequest  = "INVALID_REQUEST"
	StatusUnknownError    = "UNKNOWN_ERROR"
	StatusMaxWaypoints    = "MAX_WAYPOINTS_EXCEEDED"
	StepTravelModeWalking = "WALKING"
)

// RequestContext describes one directions request issued during a poll cycle.
// It is never mutated after being handed to a Bus.
type RequestContext struct {
	InstanceID  string     `json:"instance_id"`
	RequestID   string     `json:"request_id"`
	Cycle       int64      `json:"cycle"`
	Channel     Channel    `json:"channel"`
	Mode        TravelMode `json:"mode"`
	Origin      string     `json:"origin"`
	Destination string     `json:"destination"`
	IssuedAt    time.Time  `json:"issued_at"`
}

// Envelope is a response delivered back to the controller.
// A nil Response means the transport produced no payload.
type Envelope struct {
	InstanceID string       `json:"instance_id"`
	RequestID  string       `json:"request_id"`
	Channel    Channel      `json:"channel"`
	Response   *ApiResponse `json:"data,omitempty"`
}

// ApiResponse is the top-level Directions API response
type ApiResponse struct {
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Routes       []RawRoute `json:"routes"`
}

// RawRoute is one candidate route
type RawRoute struct {
	Summary string   `json:"summary,omitempty"`
	Legs    []RawLeg `json:"legs"`
}

// ValueText is the {value, text} pair the API uses for times and durations
type ValueText struct {
	Value int64  `json:"value"`
	Text  string `json:"text,omitempty"`
}

// RawLeg is a segment between two addresses. Times are absent for non-transit modes.
type RawLeg struct {
	DepartureTime *ValueText `json:"departure_time,omitempty"`
	ArrivalTime   *ValueText `json:"arrival_time,omitempty"`
	Duration      *ValueText `json:"duration,omitempty"`
	StartAddress  string     `json:"start_address,omitempty"`
	EndAddress    string     `json:"end_address"`
	Steps         []RawStep  `json:"steps"`
}

// RawStep is a single walk or ride within a leg
type RawStep struct {
	TravelMode     string          `json:"travel_mode"`
	Duration       *ValueText      `json:"duration,omitempty"`
	TransitDetails *TransitDetails `json:"transit_details,omitempty"`
}

// IsWalking reports whether the step is a walking segment
func (s RawStep) IsWalking() bool {
	return s.TravelMode == StepTravelModeWalking
}

// TransitDetails describes the vehicle ride of a transit step
type TransitDetails struct {
	Line          *TransitLine `json:"line,omitempty"`
	DepartureStop *NamedStop   `json:"departure_stop,omitempty"`
	ArrivalStop   *NamedStop   `json:"arrival_stop,omitempty"`
}

// TransitLine is the line a transit step rides on
type TransitLine struct {
	Name      string   `json:"name,omitempty"`
	ShortName string   `json:"short_name,omitempty"`
	Vehicle   *Vehicle `json:"vehicle,omitempty"`
}

// Vehicle is the vehicle type serving a line
type Vehicle struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Icon      string `json:"icon,omitempty"`
	LocalIcon string `json:"local_icon,omitempty"`
}

// NamedStop is a transit stop
type NamedStop struct {
	Name string `json:"name"`
}

// FragmentKind distinguishes walk and ride fragments
type FragmentKind string

const (
	FragmentWalk    FragmentKind = "walk"
	FragmentTransit FragmentKind = "transit"
	FragmentMode    FragmentKind = "mode"
)

// Symbol references an icon to show next to a fragment
type Symbol struct {
	URL        string `json:"url"`
	Alt        string `json:"alt,omitempty"`
	Monochrome bool   `json:"monochrome"`
}

// StepFragment is one rendered step of an itinerary or one entry of the alternatives row
type StepFragment struct {
	Kind          FragmentKind `json:"kind"`
	Symbol        Symbol       `json:"symbol"`
	Label         string       `json:"label"`
	DepartureStop string       `json:"departure_stop,omitempty"`
	Text          string       `json:"text"`
}

// ItineraryLeg keeps per-leg timing so headers can be re-rendered on every tick
type ItineraryLeg struct {
	DepartureEpochMs int64          `json:"departure_epoch_ms"`
	ArrivalEpochMs   int64          `json:"arrival_epoch_ms"`
	EndAddress       string         `json:"end_address"`
	Steps            []StepFragment `json:"steps"`
}

// Itinerary is the evaluated form of one RawRoute
type Itinerary struct {
	ArrivalEpochMs   int64
	DepartureEpochMs int64
	Rejected         bool
	Legs             []ItineraryLeg
	RenderedSteps    []StepFragment
	LastStopCarry    string
}

// ItemKind distinguishes itinerary rows from the alternatives summary row
type ItemKind string

const (
	ItemItinerary    ItemKind = "itinerary"
	ItemAlternatives ItemKind = "alternatives"
)

// SortKeyLast is the sentinel sort key of the alternatives row
const SortKeyLast int64 = 1<<63 - 1

// DisplayLeg is one rendered leg: a header followed by its steps
type DisplayLeg struct {
	Header string         `json:"header"`
	Steps  []StepFragment `json:"steps"`
}

// DisplayItem is a single row of the widget list
type DisplayItem struct {
	Kind     ItemKind       `json:"kind"`
	SortKey  int64          `json:"sort_key"`
	Legs     []DisplayLeg   `json:"legs,omitempty"`
	Label    string         `json:"label,omitempty"`
	Content  []StepFragment `json:"content,omitempty"`
	Opacity  float64        `json:"opacity"`
	MaxWidth int            `json:"max_width,omitempty"`
}

// EventLocation is a calendar location. Calendar feeds send false instead of an
// empty string when an event has no location.
type EventLocation string

// UnmarshalJSON accepts a string, false, or null
func (l *EventLocation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("false")) || bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("event location: %w", err)
	}
	*l = EventLocation(s)
	return nil
}

// CalendarEvent is one record of the calendar feed
type CalendarEvent struct {
	Title     string        `json:"title,omitempty"`
	Location  EventLocation `json:"location"`
	StartDate int64         `json:"startDate"` // epoch milliseconds
}

// Start returns the event start as a time
func (e CalendarEvent) Start() time.Time {
	return time.UnixMilli(e.StartDate)
}

// StatusSet is a set of API status codes, used for the ignore-list
type StatusSet map[string]struct{}

// NewStatusSet builds a set from status codes
func NewStatusSet(statuses ...string) StatusSet {
	s := make(StatusSet, len(statuses))
	for _, st := range statuses {
		s[st] = struct{}{}
	}
	return s
}

// Contains reports whether status is in the set
func (s StatusSet) Contains(status string) bool {
	_, ok := s[status]
	return ok
}
