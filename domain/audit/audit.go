// Package audit models the Audit Event row shape shared by every aggregate
// (spec.md §3, §6). It is a thin type package: the actual append-only
// storage and sequencing live in domain/eventlog, which every mutating
// operation writes through before returning success.
package audit

import "time"

// Event is one append-only audit log row. Never updated or deleted.
type Event struct {
	Sequence      int64
	AggregateType string
	AggregateID   string
	Action        string
	ActorUserID   *string // nil for system-triggered actions
	FromState     *string
	ToState       *string
	Payload       map[string]interface{}
	IPAddress     *string
	TimestampUTC  time.Time
	IsSuccessful  bool
	ErrorMessage  *string
}

// NewSuccess builds a successful audit event payload for append, leaving
// Sequence and TimestampUTC for the eventlog store to assign.
func NewSuccess(aggregateType, aggregateID, action string, actorUserID *string, from, to *string, payload map[string]interface{}) Event {
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Action:        action,
		ActorUserID:   actorUserID,
		FromState:     from,
		ToState:       to,
		Payload:       payload,
		IsSuccessful:  true,
	}
}

// NewFailure builds a failed audit event payload; spec.md §4.2/§4.3 require
// both success and failure paths to always write to the log.
func NewFailure(aggregateType, aggregateID, action string, actorUserID *string, from, to *string, errMessage string) Event {
	msg := errMessage
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Action:        action,
		ActorUserID:   actorUserID,
		FromState:     from,
		ToState:       to,
		IsSuccessful:  false,
		ErrorMessage:  &msg,
	}
}

// StrPtr is a small convenience for building nullable string fields.
func StrPtr(s string) *string { return &s }
