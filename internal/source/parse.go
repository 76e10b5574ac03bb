package source

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/eventdrift/internal/models"
)

const outputTimeLayout = "2006-01-02 15:04:05 -0700"

// jsonLine is one line of the scraper's --json output.
type jsonLine struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Tweet    string `json:"tweet"`
}

// ParseOutput reads the newest event from scraper output. Only the first
// non-empty line is used; the scraper prints newest first.
func ParseOutput(out string) (*models.Event, error) {
	var first string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			first = line
			break
		}
	}
	if first == "" {
		return nil, fmt.Errorf("%w: no lines", ErrParse)
	}

	if strings.HasPrefix(first, "{") {
		return parseJSONLine(first)
	}
	return parseTextLine(first)
}

// parseTextLine handles "<id> <date> <time> <tz> <user> <content...>".
func parseTextLine(line string) (*models.Event, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, fmt.Errorf("%w: expected at least 5 fields, got %d", ErrParse, len(fields))
	}
	ts, err := parseTimestamp(fields[1], fields[2], fields[3])
	if err != nil {
		return nil, err
	}
	return &models.Event{
		Timestamp: ts,
		Content:   strings.Join(fields[5:], " "),
	}, nil
}

func parseJSONLine(line string) (*models.Event, error) {
	var jl jsonLine
	if err := json.Unmarshal([]byte(line), &jl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	ts, err := parseTimestamp(jl.Date, jl.Time, jl.Timezone)
	if err != nil {
		return nil, err
	}
	return &models.Event{Timestamp: ts, Content: jl.Tweet}, nil
}

func parseTimestamp(date, clock, zone string) (int64, error) {
	t, err := time.Parse(outputTimeLayout, date+" "+clock+" "+zone)
	if err != nil {
		return 0, fmt.Errorf("%w: bad date %q %q %q: %v", ErrParse, date, clock, zone, err)
	}
	return t.Unix(), nil
}
