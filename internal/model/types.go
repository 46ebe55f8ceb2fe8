package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMed      Severity = "MED"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists every tier in escalation order.
var Severities = []Severity{SeverityLow, SeverityMed, SeverityHigh, SeverityCritical}

func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMed:
		return SeverityMed, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityCritical:
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Rank orders severities; unknown values rank below LOW.
func (s Severity) Rank() int {
	for i, sev := range Severities {
		if s == sev {
			return i
		}
	}
	return -1
}

func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

type Analysis struct {
	Summary         string   `json:"summary"`
	Severity        Severity `json:"severity"`
	SuggestedAction string   `json:"suggestedAction"`
}

func (a Analysis) Valid() bool {
	return strings.TrimSpace(a.Summary) != "" &&
		strings.TrimSpace(a.SuggestedAction) != "" &&
		a.Severity.Valid()
}

// EventContent is the raw payload reported for an event.
type EventContent struct {
	Type        string   `json:"type" validate:"required"`
	Domain      string   `json:"domain,omitempty"`
	IP          string   `json:"ip,omitempty"`
	Description string   `json:"description" validate:"required"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// MarshalJSON writes fields in declaration order. Metadata is written
// whenever it was present, including an empty object.
func (c EventContent) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c EventContent) encode(buf *bytes.Buffer) error {
	buf.WriteString(`{"type":`)
	if err := writeString(buf, c.Type); err != nil {
		return err
	}
	if c.Domain != "" {
		buf.WriteString(`,"domain":`)
		if err := writeString(buf, c.Domain); err != nil {
			return err
		}
	}
	if c.IP != "" {
		buf.WriteString(`,"ip":`)
		if err := writeString(buf, c.IP); err != nil {
			return err
		}
	}
	buf.WriteString(`,"description":`)
	if err := writeString(buf, c.Description); err != nil {
		return err
	}
	if c.Metadata != nil {
		buf.WriteString(`,"metadata":`)
		if err := c.Metadata.encode(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// Canonical returns the serialization used for term matching and cache
// fingerprints. Field order is fixed and metadata keeps insertion order.
// Metadata that cannot be encoded is left out.
func (c EventContent) Canonical() []byte {
	var buf bytes.Buffer
	if err := c.encode(&buf); err != nil {
		buf.Reset()
		c.Metadata = nil
		_ = c.encode(&buf)
	}
	return buf.Bytes()
}

type WatchList struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Terms       []string  `json:"terms"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Event is a reported occurrence. Analysis is nil until enrichment has
// completed, and set together with Processed.
type Event struct {
	ID            string
	WatchListID   string
	WatchListName string
	Content       EventContent
	CorrelationID string
	Processed     bool
	Analysis      *Analysis
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type eventWire struct {
	ID              string       `json:"id"`
	WatchListID     string       `json:"watchListId"`
	WatchListName   string       `json:"watchListName,omitempty"`
	RawData         EventContent `json:"rawData"`
	CorrelationID   string       `json:"correlationId"`
	Processed       bool         `json:"processed"`
	Summary         *string      `json:"summary"`
	Severity        *Severity    `json:"severity"`
	SuggestedAction *string      `json:"suggestedAction"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := eventWire{
		ID:            e.ID,
		WatchListID:   e.WatchListID,
		WatchListName: e.WatchListName,
		RawData:       e.Content,
		CorrelationID: e.CorrelationID,
		Processed:     e.Processed,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
	if e.Analysis != nil {
		a := *e.Analysis
		w.Summary = &a.Summary
		w.Severity = &a.Severity
		w.SuggestedAction = &a.SuggestedAction
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		ID:            w.ID,
		WatchListID:   w.WatchListID,
		WatchListName: w.WatchListName,
		Content:       w.RawData,
		CorrelationID: w.CorrelationID,
		Processed:     w.Processed,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
	if w.Summary != nil && w.Severity != nil && w.SuggestedAction != nil {
		e.Analysis = &Analysis{
			Summary:         *w.Summary,
			Severity:        *w.Severity,
			SuggestedAction: *w.SuggestedAction,
		}
	}
	return nil
}

// WatchListSummary is a watch list with the number of events it owns.
type WatchListSummary struct {
	WatchList
	EventCount int `json:"eventCount"`
}

// WatchListDetail is a watch list with its most recent events.
type WatchListDetail struct {
	WatchList
	Events []Event `json:"events"`
}
