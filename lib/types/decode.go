package types

import (
	"bytes"
	"encoding/json"
)

// DecodeField decodes raw into v, also accepting the legacy form where the
// value was stored as a JSON string that itself contains JSON.
func DecodeField(raw []byte, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return err
		}
		raw = []byte(inner)
	}
	return json.Unmarshal(raw, v)
}

// IsNullOrEmpty reports whether raw is absent, JSON null or an empty string.
func IsNullOrEmpty(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`))
}

func emptyParties(p []Party) []Party {
	if p == nil {
		p = []Party{}
	}
	for i := range p {
		if p[i].Details == nil {
			p[i].Details = []KeyPoint{}
		}
	}
	return p
}

func (d *Details) EnsureDefaults() {
	if d.KeyPoints == nil {
		d.KeyPoints = []KeyPoint{}
	}
}

func (a *Accused) EnsureDefaults() {
	a.Individuals = emptyParties(a.Individuals)
	a.Organizations = emptyParties(a.Organizations)
}

func (v *Victims) EnsureDefaults() {
	v.Individuals = emptyParties(v.Individuals)
	v.Groups = emptyParties(v.Groups)
}

func ensureTimeline(t []TimelineEntry) []TimelineEntry {
	if t == nil {
		return []TimelineEntry{}
	}
	for i := range t {
		if t[i].Events == nil {
			t[i].Events = []TimelineEvent{}
		}
		for j := range t[i].Events {
			if t[i].Events[j].Participants == nil {
				t[i].Events[j].Participants = []string{}
			}
			if t[i].Events[j].Evidence == nil {
				t[i].Events[j].Evidence = []string{}
			}
		}
	}
	return t
}

// EnsureDefaults replaces every nil collection with an empty one so the
// record always serializes with all fields present.
func (s *StructuredEventData) EnsureDefaults() {
	s.Details.EnsureDefaults()
	s.Accused.EnsureDefaults()
	s.Victims.EnsureDefaults()
	s.Timeline = ensureTimeline(s.Timeline)
}

func (e *EventDetails) EnsureDefaults() {
	e.Details.EnsureDefaults()
	e.Accused.EnsureDefaults()
	e.Victims.EnsureDefaults()
	e.Timeline = ensureTimeline(e.Timeline)
	if e.Sources == nil {
		e.Sources = []string{}
	}
	if e.Images == nil {
		e.Images = []string{}
	}
}
