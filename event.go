package main

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// EventContractVersion identifies the validation rules below. Bump it when a
// rule changes so sinks can tell which contract a payload was checked against.
const EventContractVersion = 1

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// SpanKind is the span type tag recorded by the sink.
type SpanKind string

const (
	KindFunction SpanKind = "function"
	KindLLM      SpanKind = "llm"
)

// Message is one chat message in an llm span's input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SpanArgs describes a span at creation time. Start and Created are simulated,
// not wall-clock, timestamps.
type SpanArgs struct {
	Name     string
	Kind     SpanKind
	Start    time.Time
	Created  time.Time
	Scores   map[string]float64
	Tags     []string
	Metadata map[string]any
}

// Event is a partial update logged against an open span. Zero-valued fields
// are not sent.
type Event struct {
	Input           any
	Output          any
	Expected        any
	Tags            []string
	Scores          map[string]float64
	Metadata        map[string]any
	Metrics         map[string]float64
	DatasetRecordID string
	Created         time.Time
}

func (a SpanArgs) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: span name is empty", ErrInvalidEvent)
	}
	switch a.Kind {
	case KindFunction, KindLLM:
	default:
		return fmt.Errorf("%w: unknown span kind %q", ErrInvalidEvent, a.Kind)
	}
	if a.Start.IsZero() {
		return fmt.Errorf("%w: span %s has no start time", ErrInvalidEvent, a.Name)
	}
	if err := validateScores(a.Scores); err != nil {
		return err
	}
	if err := validateTags(a.Tags); err != nil {
		return err
	}
	return validateMetadata(a.Metadata)
}

func (e Event) Validate() error {
	if err := validateScores(e.Scores); err != nil {
		return err
	}
	if err := validateTags(e.Tags); err != nil {
		return err
	}
	if err := validateMetadata(e.Metadata); err != nil {
		return err
	}
	for name, v := range e.Metrics {
		if name == "" {
			return fmt.Errorf("%w: metric name is empty", ErrInvalidEvent)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: metric %s is not a finite number", ErrInvalidEvent, name)
		}
	}
	return nil
}

func validateScores(scores map[string]float64) error {
	for name, v := range scores {
		if name == "" {
			return fmt.Errorf("%w: score name is empty", ErrInvalidEvent)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: score %s=%v is not between 0 and 1", ErrInvalidEvent, name, v)
		}
	}
	return nil
}

func validateTags(tags []string) error {
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			return fmt.Errorf("%w: empty tag", ErrInvalidEvent)
		}
		if _, ok := seen[tag]; ok {
			return fmt.Errorf("%w: duplicate tag %s", ErrInvalidEvent, tag)
		}
		seen[tag] = struct{}{}
	}
	return nil
}

func validateMetadata(md map[string]any) error {
	for k, v := range md {
		if k == "" {
			return fmt.Errorf("%w: metadata key is empty", ErrInvalidEvent)
		}
		switch v.(type) {
		case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		default:
			return fmt.Errorf("%w: metadata %s has non-scalar type %T", ErrInvalidEvent, k, v)
		}
	}
	return nil
}
