// Package events publishes resolution events for downstream consumers.
//
// Two events are emitted:
//
//   - query.refreshed, after a live search refreshed a cached query
//   - candidates.resolved, after generative candidates were extracted and enriched
//
// Publishing is best-effort. A failed publish is logged by the caller and
// never fails the request that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeQueryRefreshed     = "query.refreshed"
	TypeCandidatesResolved = "candidates.resolved"
)

// Aggregate types.
const (
	AggregateQuery      = "query"
	AggregateExtraction = "extraction"
)

const defaultSource = "literature-resolver"

// Event is one published message. AggregateID keys the Kafka message so that
// events about the same query land on the same partition.
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// QueryRefreshed is the payload of TypeQueryRefreshed.
type QueryRefreshed struct {
	QueryID     string   `json:"query_id,omitempty"`
	Query       string   `json:"query"`
	ResultCount int      `json:"result_count"`
	PaperIDs    []string `json:"paper_ids,omitempty"`
	Persisted   bool     `json:"persisted"`
}

// CandidatesResolved is the payload of TypeCandidatesResolved.
type CandidatesResolved struct {
	Mode       string `json:"mode"`
	Tier       string `json:"tier"`
	Candidates int    `json:"candidates"`
	Persisted  int    `json:"persisted"`
}

// EmitParams are the inputs of Emitter.Emit.
type EmitParams struct {
	// AggregateID defaults to a new UUID.
	AggregateID   string
	AggregateType string
	// EventType is required.
	EventType     string
	Payload       any
	CorrelationID string
}

// Emitter builds events stamped with the emitting service.
type Emitter struct {
	source string
	now    func() time.Time
}

// NewEmitter creates an Emitter. An empty source uses the service name.
func NewEmitter(source string) *Emitter {
	if source == "" {
		source = defaultSource
	}
	return &Emitter{source: source, now: time.Now}
}

// Emit builds an event from params.
func (e *Emitter) Emit(params EmitParams) (Event, error) {
	if params.EventType == "" {
		return Event{}, fmt.Errorf("event_type is required")
	}

	payload, err := json.Marshal(params.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal payload: %w", err)
	}

	aggregateID := params.AggregateID
	if aggregateID == "" {
		aggregateID = uuid.New().String()
	}

	return Event{
		ID:            uuid.New().String(),
		Type:          params.EventType,
		AggregateType: params.AggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    e.now().UTC(),
		Source:        e.source,
		CorrelationID: params.CorrelationID,
		Payload:       payload,
	}, nil
}
