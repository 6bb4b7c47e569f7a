// Package i18n looks up the widget's user-visible strings.
//
// Message keys are the English text, so a key missing from a catalog falls back
// to English. Directions API status codes are keys too and translate into a
// readable message.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys
const (
	KeyLoading      = "Loading connections ..."
	KeyArrival      = "Arrival"
	KeyFrom         = "from"
	KeyAlternatives = "Alternatives"
	KeyNotAvailable = "n/a"

	KeyFewSeconds = "a few seconds"
	KeyMinute     = "a minute"
	KeyMinutes    = "%d minutes"
	KeyHour       = "an hour"
	KeyHours      = "%d hours"
	KeyDay        = "a day"
	KeyDays       = "%d days"
	KeyMonth      = "a month"
	KeyMonths     = "%d months"
	KeyYear       = "a year"
	KeyYears      = "%d years"

	KeyFewSecondsShort = "a few sec"
	KeyMinuteShort     = "a min"
	KeyMinutesShort    = "%d min"

	KeyFuture = "in %s"
	KeyPast   = "%s ago"
)

var supported = []language.Tag{
	language.English,
	language.German,
	language.French,
	language.Swedish,
}

var matcher = language.NewMatcher(supported)

var messages = map[language.Tag]map[string]string{
	language.English: {
		"NOT_FOUND":              "Origin or destination could not be found",
		"ZERO_RESULTS":           "No route found",
		"OVER_QUERY_LIMIT":       "Query limit exceeded",
		"REQUEST_DENIED":         "Request denied",
		"INVALID_REQUEST":        "Invalid request",
		"UNKNOWN_ERROR":          "Unknown server error",
		"MAX_WAYPOINTS_EXCEEDED": "Too many waypoints",
	},
	language.German: {
		KeyLoading:         "Lade Verbindungen ...",
		KeyArrival:         "Ankunft",
		KeyFrom:            "ab",
		KeyAlternatives:    "Alternativen",
		KeyNotAvailable:    "k.A.",
		KeyFewSeconds:      "ein paar Sekunden",
		KeyMinute:          "eine Minute",
		KeyMinutes:         "%d Minuten",
		KeyHour:            "eine Stunde",
		KeyHours:           "%d Stunden",
		KeyDay:             "ein Tag",
		KeyDays:            "%d Tage",
		KeyMonth:           "ein Monat",
		KeyMonths:          "%d Monate",
		KeyYear:            "ein Jahr",
		KeyYears:           "%d Jahre",
		KeyFewSecondsShort: "ein paar Sek.",
		KeyMinuteShort:     "eine Min.",
		KeyMinutesShort:    "%d Min.",
		KeyFuture:          "in %s",
		KeyPast:            "vor %s",

		"NOT_FOUND":              "Start oder Ziel nicht gefunden",
		"ZERO_RESULTS":           "Keine Verbindung gefunden",
		"OVER_QUERY_LIMIT":       "Abfragelimit überschritten",
		"REQUEST_DENIED":         "Anfrage abgelehnt",
		"INVALID_REQUEST":        "Ungültige Anfrage",
		"UNKNOWN_ERROR":          "Unbekannter Serverfehler",
		"MAX_WAYPOINTS_EXCEEDED": "Zu viele Wegpunkte",
	},
	language.French: {
		KeyLoading:         "Chargement des connexions ...",
		KeyArrival:         "Arrivée",
		KeyFrom:            "depuis",
		KeyAlternatives:    "Alternatives",
		KeyNotAvailable:    "n/d",
		KeyFewSeconds:      "quelques secondes",
		KeyMinute:          "une minute",
		KeyMinutes:         "%d minutes",
		KeyHour:            "une heure",
		KeyHours:           "%d heures",
		KeyDay:             "un jour",
		KeyDays:            "%d jours",
		KeyMonth:           "un mois",
		KeyMonths:          "%d mois",
		KeyYear:            "un an",
		KeyYears:           "%d ans",
		KeyFewSecondsShort: "quelques sec",
		KeyMinuteShort:     "une min",
		KeyMinutesShort:    "%d min",
		KeyFuture:          "dans %s",
		KeyPast:            "il y a %s",

		"NOT_FOUND":        "Départ ou destination introuvable",
		"ZERO_RESULTS":     "Aucun itinéraire trouvé",
		"OVER_QUERY_LIMIT": "Limite de requêtes dépassée",
		"REQUEST_DENIED":   "Requête refusée",
		"INVALID_REQUEST":  "Requête invalide",
		"UNKNOWN_ERROR":    "Erreur serveur inconnue",
	},
	language.Swedish: {
		KeyLoading:         "Laddar förbindelser ...",
		KeyArrival:         "Ankomst",
		KeyFrom:            "från",
		KeyAlternatives:    "Alternativ",
		KeyNotAvailable:    "saknas",
		KeyFewSeconds:      "några sekunder",
		KeyMinute:          "en minut",
		KeyMinutes:         "%d minuter",
		KeyHour:            "en timme",
		KeyHours:           "%d timmar",
		KeyDay:             "en dag",
		KeyDays:            "%d dagar",
		KeyMonth:           "en månad",
		KeyMonths:          "%d månader",
		KeyYear:            "ett år",
		KeyYears:           "%d år",
		KeyFewSecondsShort: "några sek",
		KeyMinuteShort:     "en min",
		KeyMinutesShort:    "%d min",
		KeyFuture:          "om %s",
		KeyPast:            "för %s sedan",

		"NOT_FOUND":        "Start eller mål hittades inte",
		"ZERO_RESULTS":     "Ingen förbindelse hittades",
		"OVER_QUERY_LIMIT": "Frågegränsen har överskridits",
		"REQUEST_DENIED":   "Förfrågan nekades",
		"INVALID_REQUEST":  "Ogiltig förfrågan",
		"UNKNOWN_ERROR":    "Okänt serverfel",
	},
}

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range messages {
		for key, msg := range entries {
			// keys and messages are static; SetString only fails on malformed tags
			_ = b.SetString(tag, key, msg)
		}
	}
	return b
}

// Translator renders message keys in one language
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a Translator for the best supported match of lang (e.g. "de", "de-AT", "sv_SE").
// Unknown languages fall back to English.
func New(lang string) *Translator {
	tag := Match(lang)
	return &Translator{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(cat)),
	}
}

// Match returns the supported language closest to lang
func Match(lang string) language.Tag {
	requested, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	_, idx, conf := matcher.Match(requested)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

// Tag returns the language the translator renders in
func (t *Translator) Tag() language.Tag {
	return t.tag
}

// T translates key and formats it with args
func (t *Translator) T(key string, args ...interface{}) string {
	return t.printer.Sprintf(key, args...)
}
