package types

import (
	"fmt"
	"strings"
	"time"
)

// Event statuses the update detector can assign.
const (
	StatusJustice   = "Justice"
	StatusInjustice = "Injustice"
	StatusPending   = "Pending"
)

// NormalizeStatus maps a free-form status onto one of the known values,
// returning "" when it matches none.
func NormalizeStatus(s string) string {
	s = strings.Trim(strings.TrimSpace(s), ".*\"'")
	for _, known := range []string{StatusJustice, StatusInjustice, StatusPending} {
		if strings.EqualFold(s, known) {
			return known
		}
	}
	return ""
}

// Event is a documented incident tracked by the archive.
type Event struct {
	ID           int64      `json:"event_id"`
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Query        string     `json:"query"`
	Status       string     `json:"status"`
	LastUpdated  time.Time  `json:"last_updated"`
	IncidentDate *time.Time `json:"incident_date,omitempty"`
}

type KeyPoint struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type Details struct {
	Overview  string     `json:"overview"`
	KeyPoints []KeyPoint `json:"keyPoints"`
}

// Party is a person, organization or group named in an event.
type Party struct {
	Name    string     `json:"name"`
	Summary string     `json:"summary"`
	Details []KeyPoint `json:"details"`
}

type Accused struct {
	Individuals   []Party `json:"individuals"`
	Organizations []Party `json:"organizations"`
}

type Victims struct {
	Individuals []Party `json:"individuals"`
	Groups      []Party `json:"groups"`
}

type TimelineEvent struct {
	Time         string   `json:"time"`
	Description  string   `json:"description"`
	Participants []string `json:"participants"`
	Evidence     []string `json:"evidence"`
}

type TimelineEntry struct {
	Date    string          `json:"date"`
	Context string          `json:"context"`
	Events  []TimelineEvent `json:"events"`
}

// StructuredEventData is the shape the LLM extraction client guarantees.
type StructuredEventData struct {
	Title    string          `json:"title"`
	Location string          `json:"location"`
	Details  Details         `json:"details"`
	Accused  Accused         `json:"accused"`
	Victims  Victims         `json:"victims"`
	Timeline []TimelineEntry `json:"timeline"`
}

// EventDetails is the persisted, one-per-event enrichment record.
type EventDetails struct {
	EventID   int64           `json:"event_id"`
	Title     string          `json:"title"`
	Location  string          `json:"location"`
	Details   Details         `json:"details"`
	Accused   Accused         `json:"accused"`
	Victims   Victims         `json:"victims"`
	Timeline  []TimelineEntry `json:"timeline"`
	Sources   []string        `json:"sources"`
	Images    []string        `json:"images"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EventUpdate rows are append-only.
type EventUpdate struct {
	ID          string    `json:"update_id"`
	EventID     int64     `json:"event_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UpdateDate  time.Time `json:"update_date"`
}

// EventPatch carries the optional columns UpdateEvent may change.
type EventPatch struct {
	LastUpdated *time.Time
	Status      *string
}

// UpdateBatch is everything one successful update detector run persists.
type UpdateBatch struct {
	EventID     int64
	Updates     []EventUpdate
	LastUpdated time.Time
	Status      string
	Sources     []string
}

// ScrapedArticle lives only for the duration of one pipeline run.
type ScrapedArticle struct {
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Source  string   `json:"source"`
	Images  []string `json:"images,omitempty"`
}

type SearchResult struct {
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	Link          string     `json:"link"`
	DisplayLink   string     `json:"displayLink,omitempty"`
	PublishedDate *time.Time `json:"publishedDate,omitempty"`
	FullContent   string     `json:"fullContent,omitempty"`
}

// DateKey buckets a result by UTC calendar date, "unknown" when undated.
func (r SearchResult) DateKey() string {
	if r.PublishedDate == nil {
		return "unknown"
	}
	return r.PublishedDate.UTC().Format("2006-01-02")
}

// UpdateRecord is one LLM-produced update before it becomes an EventUpdate.
type UpdateRecord struct {
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
}

type UpdateAnalysis struct {
	Updates []UpdateRecord `json:"updates"`
	Status  string         `json:"status"`
}

// Tags returns the cache tags covering an event's public pages.
func (e Event) Tags() []string {
	tags := []string{fmt.Sprintf("event-%d", e.ID)}
	if e.Slug != "" {
		tags = append(tags, "event-"+e.Slug)
	}
	return append(tags, "events")
}
