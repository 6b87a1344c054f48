package types

import (
	"encoding/json"
	"fmt"
)

// EventKind names the four messages the download boundary can send
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventProgress EventKind = "progress"
	EventFinished EventKind = "finished"
	EventError    EventKind = "error"
)

// Event is one message from the download boundary. The set of implementations is
// closed: StartedEvent, ProgressEvent, FinishedEvent and ErrorEvent.
type Event interface {
	Kind() EventKind
	isEvent()
}

// StartedEvent is informational
type StartedEvent struct{}

// ProgressEvent carries one raw status line
type ProgressEvent struct {
	Output string `json:"output"`
}

// FinishedEvent is the authoritative completion signal
type FinishedEvent struct{}

// ErrorEvent ends the download with a failure
type ErrorEvent struct {
	Message string `json:"message"`
	Help    string `json:"help,omitempty"`
}

func (StartedEvent) Kind() EventKind  { return EventStarted }
func (ProgressEvent) Kind() EventKind { return EventProgress }
func (FinishedEvent) Kind() EventKind { return EventFinished }
func (ErrorEvent) Kind() EventKind    { return EventError }

func (StartedEvent) isEvent()  {}
func (ProgressEvent) isEvent() {}
func (FinishedEvent) isEvent() {}
func (ErrorEvent) isEvent()    {}

// Failure converts the event payload into the failure recorded on the item
func (e ErrorEvent) Failure() Failure {
	return Failure{Message: e.Message, Help: e.Help}
}

// EventEnvelope is the wire shape {"event": "...", "data": {...}}
type EventEnvelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEvent parses a wire message into its typed event
func DecodeEvent(raw []byte) (Event, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, NewDownloadErrorWithCause(ErrorInvalidRequest, "malformed event", err)
	}
	return envelope.Decode()
}

// Decode turns the envelope data into the typed event
func (e EventEnvelope) Decode() (Event, error) {
	switch e.Event {
	case EventStarted:
		return StartedEvent{}, nil
	case EventFinished:
		return FinishedEvent{}, nil
	case EventProgress:
		var event ProgressEvent
		if err := e.unmarshalData(&event); err != nil {
			return nil, err
		}
		return event, nil
	case EventError:
		var event ErrorEvent
		if err := e.unmarshalData(&event); err != nil {
			return nil, err
		}
		return event, nil
	default:
		return nil, NewDownloadError(ErrorInvalidRequest, fmt.Sprintf("unknown event %q", e.Event))
	}
}

func (e EventEnvelope) unmarshalData(target interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return NewDownloadErrorWithCause(ErrorInvalidRequest, fmt.Sprintf("malformed %s data", e.Event), err)
	}
	return nil
}

// EncodeEvent renders an event in its wire shape
func EncodeEvent(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(EventEnvelope{Event: event.Kind(), Data: data})
}
