package events

import "time"

// EventType identifies a step in a verification run.
type EventType string

const (
	EventRunStart    EventType = "run.start"
	EventRunEnd      EventType = "run.end"
	EventRunAborted  EventType = "run.aborted"
	EventProbeStart  EventType = "probe.start"
	EventProbeEnd    EventType = "probe.end"
	EventProbeFailed EventType = "probe.failed" // fail or error outcome, published after probe.end
)

// Event is a single run event. Index is the catalog position for probe
// events and -1 otherwise.
type Event struct {
	Type      EventType     `json:"type"`
	RunID     string        `json:"run_id"`
	Timestamp time.Time     `json:"timestamp"`
	Index     int           `json:"index"`
	CheckID   string        `json:"check_id,omitempty"`
	Data      any           `json:"data,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a run-level Event stamped with the current time.
func NewEvent(typ EventType, runID string, data any) Event {
	return Event{
		Type:      typ,
		RunID:     runID,
		Timestamp: time.Now(),
		Index:     -1,
		Data:      data,
	}
}

// NewProbeEvent creates an Event for the probe at catalog position index.
func NewProbeEvent(typ EventType, runID string, index int, checkID string, data any) Event {
	e := NewEvent(typ, runID, data)
	e.Index = index
	e.CheckID = checkID
	return e
}
