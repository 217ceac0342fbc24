package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp layouts seen in oref history responses. The upstream normally
// sends "2006-01-02 15:04:05" but some edges return ISO-8601 variants.
var eventTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// AlertRecord is one reported event from the alert-history feed.
// Records are immutable once received.
type AlertRecord struct {
	AlertDate    string    // raw timestamp as received; part of the identity
	Category     int       // small integer category code
	CategoryDesc string    // display string for the category
	Nationwide   bool      // true when the record came from the nationwide feed
	EventTime    time.Time // parsed from AlertDate; zero when unparseable
}

// UnmarshalJSON implements custom JSON unmarshaling for AlertRecord.
// The category arrives as either a JSON number or a numeric string depending
// on the upstream edge, and the raw alertDate string is kept verbatim because
// it participates in the record identity.
func (r *AlertRecord) UnmarshalJSON(data []byte) error {
	aux := struct {
		AlertDate    string      `json:"alertDate"`
		Category     json.Number `json:"category"`
		CategoryDesc string      `json:"category_desc"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.AlertDate = aux.AlertDate
	r.CategoryDesc = aux.CategoryDesc

	if cat, err := aux.Category.Int64(); err == nil {
		r.Category = int(cat)
	}

	r.EventTime = parseEventTime(aux.AlertDate)
	return nil
}

// MarshalJSON renders the record in the wire shape the feed uses.
func (r AlertRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AlertDate    string `json:"alertDate"`
		Category     int    `json:"category"`
		CategoryDesc string `json:"category_desc"`
		Nationwide   bool   `json:"nw,omitempty"`
	}{
		AlertDate:    r.AlertDate,
		Category:     r.Category,
		CategoryDesc: r.CategoryDesc,
		Nationwide:   r.Nationwide,
	})
}

func parseEventTime(raw string) time.Time {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Identity derives the deduplication and alarm key for the record. Two
// records with the same identity are the same logical event even when fetched
// in different cycles or tagged with a different feed origin suffix.
func (r AlertRecord) Identity() string {
	id := fmt.Sprintf("%s-%d", r.AlertDate, r.Category)
	if r.Nationwide {
		id += "N"
	}
	return id
}

// Valid reports whether the record carries the fields required for
// processing. Records without a date or with a zero category code are
// skipped, matching the upstream's use of zero as "no category".
func (r AlertRecord) Valid() bool {
	return r.AlertDate != "" && r.Category != 0
}
