// Package calendar provides iCal feed parsing, fetching and reservation sync.
package calendar

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rental-feed-sync/backend/internal/storage/models"
)

// DefaultSummary is used when an event carries no SUMMARY.
const DefaultSummary = "Airbnb Reservation"

// Parser parses iCal/ICS calendar feeds into booking events.
// It performs no I/O and holds no state between calls.
type Parser struct {
	location       *time.Location
	defaultSummary string
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithLocation sets the location for date-only and floating date-time values.
func WithLocation(loc *time.Location) ParserOption {
	return func(p *Parser) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithDefaultSummary overrides the title used for events without a SUMMARY.
func WithDefaultSummary(summary string) ParserOption {
	return func(p *Parser) {
		if summary != "" {
			p.defaultSummary = summary
		}
	}
}

// NewParser creates a new iCal parser. Values without a zone are read as UTC
// unless WithLocation says otherwise.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		location:       time.UTC,
		defaultSummary: DefaultSummary,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParsedFeed is the result of parsing one feed body.
type ParsedFeed struct {
	Events []models.BookingEvent
	// Dropped counts VEVENT blocks discarded for missing UID, DTSTART or DTEND.
	Dropped int
}

// Parse reads and parses iCal data from a reader.
func (p *Parser) Parse(r io.Reader) ([]models.BookingEvent, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ParseError("reading calendar", err)
	}
	feed, err := p.ParseFeed(data)
	if err != nil {
		return nil, err
	}
	return feed.Events, nil
}

// ParseFeed parses a complete feed body. Malformed VEVENT blocks are skipped;
// only content that is not text at all (NUL bytes) is an error.
func (p *Parser) ParseFeed(data []byte) (*ParsedFeed, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, ParseError("calendar content is not text", nil)
	}

	text := strings.ToValidUTF8(string(data), "\uFFFD")
	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	feed := &ParsedFeed{Events: []models.BookingEvent{}}

	var current *eventBuilder
	// depth counts components nested inside the current VEVENT (VALARM etc.).
	depth := 0

	for _, line := range unfold(strings.Split(text, "\n")) {
		colonIdx := strings.Index(line, ":")
		if colonIdx <= 0 {
			continue
		}

		name, params := splitProperty(line[:colonIdx])
		value := line[colonIdx+1:]

		switch name {
		case "BEGIN":
			if strings.EqualFold(strings.TrimSpace(value), "VEVENT") {
				if current != nil {
					// VEVENT inside an unterminated VEVENT: the outer block is broken.
					feed.Dropped++
				}
				current = &eventBuilder{}
				depth = 0
			} else if current != nil {
				depth++
			}
		case "END":
			if current == nil {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(value), "VEVENT") {
				if event, ok := current.build(p.defaultSummary); ok {
					feed.Events = append(feed.Events, event)
				} else {
					feed.Dropped++
				}
				current = nil
				depth = 0
			} else if depth > 0 {
				depth--
			}
		default:
			if current != nil && depth == 0 {
				p.setEventField(current, name, params, value)
			}
		}
	}

	if current != nil {
		feed.Dropped++
	}

	return feed, nil
}

// eventBuilder accumulates the properties of one VEVENT block.
type eventBuilder struct {
	uid         string
	summary     string
	description string
	start       time.Time
	end         time.Time
	allDay      bool
	status      models.EventStatus
}

func (b *eventBuilder) build(defaultSummary string) (models.BookingEvent, bool) {
	if b.uid == "" || b.start.IsZero() || b.end.IsZero() {
		return models.BookingEvent{}, false
	}

	event := models.BookingEvent{
		UID:         b.uid,
		Summary:     b.summary,
		Description: b.description,
		Start:       b.start,
		End:         b.end,
		AllDay:      b.allDay,
		Status:      b.status,
	}
	if event.Summary == "" {
		event.Summary = defaultSummary
	}
	if event.Status == "" {
		event.Status = models.EventStatusConfirmed
	}
	return event, true
}

// setEventField sets a recognised property on the event being built.
func (p *Parser) setEventField(b *eventBuilder, name string, params map[string]string, value string) {
	switch name {
	case "UID":
		b.uid = strings.TrimSpace(value)
	case "SUMMARY":
		b.summary = unescapeText(value)
	case "DESCRIPTION":
		b.description = unescapeText(value)
	case "DTSTART":
		t, dateOnly := p.parseDateTime(value, params)
		b.start = t
		b.allDay = dateOnly && !t.IsZero()
	case "DTEND":
		t, _ := p.parseDateTime(value, params)
		b.end = t
	case "STATUS":
		if status, ok := models.ParseEventStatus(strings.ToUpper(strings.TrimSpace(value))); ok {
			b.status = status
		}
	}
}

// parseDateTime parses an iCal DATE or DATE-TIME value. It returns the zero
// time when the value cannot be read, which makes the enclosing event invalid.
func (p *Parser) parseDateTime(value string, params map[string]string) (time.Time, bool) {
	value = strings.TrimSpace(value)

	utc := strings.HasSuffix(value, "Z")
	raw := strings.TrimSuffix(value, "Z")

	if len(raw) == 8 {
		if t, ok := parseDate(raw, p.location); ok {
			return t, true
		}
	}

	if len(raw) >= 15 && raw[8] == 'T' {
		loc := p.location
		if utc {
			loc = time.UTC
		} else if tzid := params["TZID"]; tzid != "" {
			if l, err := time.LoadLocation(tzid); err == nil {
				loc = l
			}
		}
		if t, ok := parseDateTimeFields(raw, loc); ok {
			return t, false
		}
	}

	return p.parseFallback(value), false
}

var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"20060102T1504",
}

// parseFallback tries common non-iCal layouts some feed generators emit.
func (p *Parser) parseFallback(value string) time.Time {
	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, value, p.location); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseDate(s string, loc *time.Location) (time.Time, bool) {
	year, ok1 := atoi(s[0:4])
	month, ok2 := atoi(s[4:6])
	day, ok3 := atoi(s[6:8])
	if !ok1 || !ok2 || !ok3 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func parseDateTimeFields(s string, loc *time.Location) (time.Time, bool) {
	date, ok := parseDate(s[0:8], loc)
	if !ok {
		return time.Time{}, false
	}
	hour, ok1 := atoi(s[9:11])
	minute, ok2 := atoi(s[11:13])
	second, ok3 := atoi(s[13:15])
	if !ok1 || !ok2 || !ok3 || hour > 23 || minute > 59 || second > 60 {
		return time.Time{}, false
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, second, 0, loc), true
}

func atoi(s string) (int, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// unfold joins continuation lines (leading space or tab) onto the logical
// line above, dropping the single leading whitespace character.
func unfold(physical []string) []string {
	logical := make([]string, 0, len(physical))
	for _, line := range physical {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if n := len(logical); n > 0 {
				logical[n-1] += line[1:]
			}
			continue
		}
		logical = append(logical, line)
	}
	return logical
}

// splitProperty separates "NAME;PARAM=VALUE;..." into an upper-cased name and
// its parameters.
func splitProperty(key string) (string, map[string]string) {
	parts := strings.Split(key, ";")
	name := strings.ToUpper(strings.TrimSpace(parts[0]))
	if len(parts) == 1 {
		return name, nil
	}

	params := make(map[string]string, len(parts)-1)
	for _, part := range parts[1:] {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		params[strings.ToUpper(strings.TrimSpace(k))] = strings.Trim(v, `"`)
	}
	return name, params
}

// unescapeText reverses iCal TEXT escaping: \n, \N, \, \; and \\.
func unescapeText(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\\' && i+1 < len(value) {
			switch next := value[i+1]; next {
			case 'n', 'N':
				b.WriteByte('\n')
				i++
				continue
			case ',', ';', '\\':
				b.WriteByte(next)
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
