// Package config loads the widget options from YAML and the infrastructure
// settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/passbi/localtransport/internal/alternatives"
	"github.com/passbi/localtransport/internal/format"
	"github.com/passbi/localtransport/internal/models"
	"github.com/passbi/localtransport/internal/routing"
	"github.com/passbi/localtransport/internal/session"
	"github.com/passbi/localtransport/internal/transport"
)

// PlaceholderAPIKey marks an unset key in the widget file
const PlaceholderAPIKey = "YOUR_API_KEY"

// Widget holds the options of one widget instance
type Widget struct {
	Origin      string `yaml:"origin" validate:"required"`
	Destination string `yaml:"destination" validate:"required"`
	Header      string `yaml:"header"`

	APIKey       string `yaml:"api_key"`
	APIBase      string `yaml:"api_base" validate:"url"`
	APIEndpoint  string `yaml:"api_endpoint" validate:"required"`
	TrafficModel string `yaml:"traffic_model" validate:"oneof=best_guess pessimistic optimistic"`
	Language     string `yaml:"language"`
	Units        string `yaml:"units" validate:"oneof=metric imperial"`
	TimeFormat   int    `yaml:"time_format" validate:"oneof=12 24"`

	UpdateInterval int `yaml:"update_interval" validate:"gte=1"` // minutes
	MaxWalkTime    int `yaml:"max_walk_time" validate:"gte=1"`   // minutes

	MaximumEntries       int     `yaml:"maximum_entries" validate:"gte=1"`
	DisplayStationLength int     `yaml:"display_station_length"`
	DisplayWalkType      string  `yaml:"display_walk_type" validate:"oneof=short long none"`
	DisplayArrival       bool    `yaml:"display_arrival"`
	DisplayAltWalk       bool    `yaml:"display_alt_walk"`
	DisplayAltCycle      bool    `yaml:"display_alt_cycle"`
	DisplayAltDrive      bool    `yaml:"display_alt_drive"`
	DisplayAltTransit    bool    `yaml:"display_alt_transit"`
	Fade                 bool    `yaml:"fade"`
	FadePoint            float64 `yaml:"fade_point" validate:"gte=0"`
	ShowColor            bool    `yaml:"show_color"`
	MaxModuleWidth       int     `yaml:"max_module_width" validate:"gte=0"`

	GetCalendarLocation bool     `yaml:"get_calendar_location"`
	IgnoreErrors        []string `yaml:"ignore_errors"`
	Debug               bool     `yaml:"debug"`
}

// Infra holds process settings read from the environment
type Infra struct {
	Port             string
	Bus              string // local|nats
	NATSURL          string
	InstanceID       string
	CalendarSource   string // none|postgres
	CalendarToken    string
	CalendarInterval time.Duration
	FetchTimeout     time.Duration
}

// Config is the complete configuration of a widget process
type Config struct {
	Widget Widget
	Infra  Infra
}

// Defaults returns the widget options used for keys the file leaves out
func Defaults() Widget {
	return Widget{
		APIKey:               PlaceholderAPIKey,
		APIBase:              "https://maps.googleapis.com/",
		APIEndpoint:          "maps/api/directions/json",
		TrafficModel:         "best_guess",
		Language:             "en",
		Units:                "metric",
		TimeFormat:           24,
		UpdateInterval:       5,
		MaxWalkTime:          10,
		MaximumEntries:       3,
		DisplayStationLength: 0,
		DisplayWalkType:      "short",
		DisplayArrival:       true,
		Fade:                 true,
		FadePoint:            0.1,
		ShowColor:            true,
		IgnoreErrors:         []string{models.StatusOK, models.StatusOverQueryLimit, models.StatusUnknownError},
	}
}

// Load reads .env (if present), the widget file named by LOCALTRANSPORT_CONFIG
// (default config.yml) and the infrastructure environment
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	path := getEnv("LOCALTRANSPORT_CONFIG", "config.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	widget, err := ParseWidget(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	infra, err := LoadInfra()
	if err != nil {
		return nil, err
	}
	return &Config{Widget: *widget, Infra: *infra}, nil
}

// ParseWidget decodes and validates widget options on top of Defaults.
// LOCALTRANSPORT_API_KEY fills in a missing key.
func ParseWidget(data []byte) (*Widget, error) {
	w := Defaults()
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	if w.APIKey == "" || w.APIKey == PlaceholderAPIKey {
		if key := os.Getenv("LOCALTRANSPORT_API_KEY"); key != "" {
			w.APIKey = key
		}
	}

	if err := validator.New().Struct(w); err != nil {
		return nil, fmt.Errorf("invalid widget options: %w", err)
	}
	return &w, nil
}

// LoadInfra reads the infrastructure settings from the environment
func LoadInfra() (*Infra, error) {
	infra := &Infra{
		Port:           getEnv("API_PORT", "8080"),
		Bus:            strings.ToLower(getEnv("BUS", "local")),
		NATSURL:        getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		InstanceID:     os.Getenv("INSTANCE_ID"),
		CalendarSource: strings.ToLower(getEnv("CALENDAR_SOURCE", "none")),
		CalendarToken:  os.Getenv("CALENDAR_TOKEN"),
	}

	switch infra.Bus {
	case "local", "nats":
	default:
		return nil, fmt.Errorf("invalid BUS: %q", infra.Bus)
	}
	switch infra.CalendarSource {
	case "none", "postgres":
	default:
		return nil, fmt.Errorf("invalid CALENDAR_SOURCE: %q", infra.CalendarSource)
	}

	var err error
	if infra.CalendarInterval, err = durationEnv("CALENDAR_POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if infra.FetchTimeout, err = durationEnv("FETCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	return infra, nil
}

// LogLevel is Debug when the widget runs in debug mode
func (w *Widget) LogLevel() slog.Level {
	if w.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Ignore returns the tolerated API status codes
func (w *Widget) Ignore() models.StatusSet {
	return models.NewStatusSet(w.IgnoreErrors...)
}

// EvaluatorOptions maps the options onto the itinerary evaluator
func (w *Widget) EvaluatorOptions() routing.EvaluatorOptions {
	return routing.EvaluatorOptions{
		MaxWalkTime: time.Duration(w.MaxWalkTime) * time.Minute,
		Walk:        format.WalkDisplay(w.DisplayWalkType),
		Stations:    format.StationLength(w.DisplayStationLength),
		ShowColor:   w.ShowColor,
		Debug:       w.Debug,
	}
}

// TrackerOptions maps the options onto the alternatives tracker
func (w *Widget) TrackerOptions() alternatives.Options {
	return alternatives.Options{
		Walk:      w.DisplayAltWalk,
		Cycle:     w.DisplayAltCycle,
		Transit:   w.DisplayAltTransit,
		Drive:     w.DisplayAltDrive,
		ShowColor: w.ShowColor,
		Short:     format.WalkDisplay(w.DisplayWalkType).Short(),
		Ignore:    w.Ignore(),
	}
}

// SessionOptions maps the options onto the session controller
func (w *Widget) SessionOptions(instanceID string) session.Options {
	return session.Options{
		InstanceID:     instanceID,
		Origin:         w.Origin,
		Destination:    w.Destination,
		UpdateInterval: time.Duration(w.UpdateInterval) * time.Minute,
		UseCalendar:    w.GetCalendarLocation,
		Walk:           w.DisplayAltWalk,
		Cycle:          w.DisplayAltCycle,
		Drive:          w.DisplayAltDrive,
		Header:         w.Header,
		DisplayArrival: w.DisplayArrival,
		TimeFormat:     w.TimeFormat,
		MaxEntries:     w.MaximumEntries,
		Fade:           w.Fade,
		FadePoint:      w.FadePoint,
		MaxWidth:       w.MaxModuleWidth,
		Ignore:         w.Ignore(),
		Debug:          w.Debug,
	}
}

// ClientConfig maps the options onto the Directions client
func (w *Widget) ClientConfig(timeout time.Duration) transport.ClientConfig {
	return transport.ClientConfig{
		BaseURL:      w.APIBase,
		Endpoint:     w.APIEndpoint,
		APIKey:       w.APIKey,
		TrafficModel: w.TrafficModel,
		Language:     w.Language,
		Units:        w.Units,
		Timeout:      timeout,
	}
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, nil
	}
	if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
		return time.Duration(sec) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid %s: %q", key, v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
