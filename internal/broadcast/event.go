// Package broadcast fans live pipeline progress out to every connection a user has open.
package broadcast

import "time"

// EventType identifies the shape of a pushed event
type EventType string

// Event types pushed on the live channel
const (
	EventConnected       EventType = "CONNECTED"
	EventStateUpdate     EventType = "STATE_UPDATE"
	EventWaitingForInput EventType = "WAITING_FOR_INPUT"
)

// Event is a single server-pushed message. ID and Timestamp are assigned by the Hub.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	RunID         string    `json:"run_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	Label         string    `json:"current_agent,omitempty"`
	CurrentStage  int       `json:"current_stage,omitempty"`
	MissingFields []string  `json:"missing_fields,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// StateUpdate builds a STATE_UPDATE event for a stage transition
func StateUpdate(runID, status, label string, stage int) Event {
	return Event{
		Type:         EventStateUpdate,
		RunID:        runID,
		Status:       status,
		Label:        label,
		CurrentStage: stage,
		Message:      "Pipeline is " + status,
	}
}

// WaitingForInput builds the event pushed when a run suspends on a validation gap
func WaitingForInput(runID string, stage int, missing []string) Event {
	return Event{
		Type:          EventWaitingForInput,
		RunID:         runID,
		Status:        "waiting_for_input",
		CurrentStage:  stage,
		MissingFields: append([]string(nil), missing...),
		Message:       "Additional input is required to continue",
	}
}
