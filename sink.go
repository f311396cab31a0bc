package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrSpanEnded is returned when logging to, ending, or parenting a span that
// has already been ended.
var ErrSpanEnded = errors.New("span is already ended")

// A Sink accepts hierarchical spans and persists them when flushed. StartSpan
// with a nil parent starts a new trace. Flush may be called from several
// goroutines at once.
type Sink interface {
	StartSpan(parent SpanHandle, args SpanArgs) (SpanHandle, error)
	Flush(ctx context.Context) error
	Close() error
}

// A SpanHandle is an open span. It belongs to the goroutine that started it.
type SpanHandle interface {
	Log(ev Event) error
	End(end time.Time) error
}

// NewSink performs the login step for the configured sender and returns its
// sink, wrapped so that every span and event is validated before the backend
// sees it.
func NewSink(ctx context.Context, log Logger, opts *Options) (Sink, error) {
	if err := login(opts); err != nil {
		return nil, err
	}

	var sink Sink
	var err error
	switch opts.Output.Sender {
	case "otel":
		sink, err = NewSinkOTel(ctx, log, opts)
	case "honeycomb":
		sink, err = NewSinkHoneycomb(log, opts)
	case "sqlite":
		sink, err = NewSinkSQLite(ctx, log, opts.Output.DBPath, opts.Telemetry.Project)
	case "print":
		sink = NewSinkPrint(log, opts.Telemetry.Project)
	case "dummy":
		sink = NewSinkDummy(log)
	default:
		err = fmt.Errorf("unknown sender %q", opts.Output.Sender)
	}
	if err != nil {
		return nil, err
	}
	log.Info("logging to project %s with %s sender", opts.Telemetry.Project, opts.Output.Sender)
	return WithValidation(sink), nil
}

// login checks that the credentials the sender needs are present. It never
// talks to the backend; bad keys surface as flush errors.
func login(opts *Options) error {
	needsKey := opts.Output.Sender == "honeycomb" ||
		(opts.Output.Sender == "otel" && opts.apihost != nil && strings.HasSuffix(opts.apihost.Hostname(), "honeycomb.io"))
	if needsKey && opts.Telemetry.APIKey == "" {
		return fmt.Errorf("the %s sender requires an API key (--apikey or HONEYCOMB_API_KEY)", opts.Output.Sender)
	}
	return nil
}

type validatingSink struct {
	Sink
}

type validatingSpan struct {
	inner SpanHandle
	name  string
	ended atomic.Bool
}

// WithValidation enforces the event contract (EventContractVersion) and span
// lifecycle rules in front of a backend sink.
func WithValidation(s Sink) Sink {
	return validatingSink{Sink: s}
}

func (s validatingSink) StartSpan(parent SpanHandle, args SpanArgs) (SpanHandle, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	var inner SpanHandle
	if parent != nil {
		p, ok := parent.(*validatingSpan)
		if !ok {
			return nil, fmt.Errorf("parent of %s was not started by this sink", args.Name)
		}
		if p.ended.Load() {
			return nil, fmt.Errorf("starting %s under %s: %w", args.Name, p.name, ErrSpanEnded)
		}
		inner = p.inner
	}
	h, err := s.Sink.StartSpan(inner, args)
	if err != nil {
		return nil, err
	}
	return &validatingSpan{inner: h, name: args.Name}, nil
}

func (s *validatingSpan) Log(ev Event) error {
	if s.ended.Load() {
		return fmt.Errorf("logging to %s: %w", s.name, ErrSpanEnded)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("logging to %s: %w", s.name, err)
	}
	return s.inner.Log(ev)
}

func (s *validatingSpan) End(end time.Time) error {
	if !s.ended.CompareAndSwap(false, true) {
		return fmt.Errorf("ending %s: %w", s.name, ErrSpanEnded)
	}
	return s.inner.End(end)
}

// spanRecord accumulates everything logged against one span, for sinks that
// write a span as a single row or event once it ends.
type spanRecord struct {
	TraceID         string
	SpanID          string
	ParentID        string
	Name            string
	Kind            SpanKind
	Start           time.Time
	End             time.Time
	Created         time.Time
	Input           any
	Output          any
	Expected        any
	Tags            []string
	Scores          map[string]float64
	Metadata        map[string]any
	Metrics         map[string]float64
	DatasetRecordID string
}

func newSpanRecord(parent *spanRecord, args SpanArgs) *spanRecord {
	r := &spanRecord{
		SpanID:  uuid.NewString(),
		Name:    args.Name,
		Kind:    args.Kind,
		Start:   args.Start,
		Created: args.Created,
	}
	if parent != nil {
		r.TraceID = parent.TraceID
		r.ParentID = parent.SpanID
	} else {
		r.TraceID = uuid.NewString()
	}
	r.merge(Event{Scores: args.Scores, Tags: args.Tags, Metadata: args.Metadata})
	return r
}

func (r *spanRecord) merge(ev Event) {
	if ev.Input != nil {
		r.Input = ev.Input
	}
	if ev.Output != nil {
		r.Output = ev.Output
	}
	if ev.Expected != nil {
		r.Expected = ev.Expected
	}
	for _, tag := range ev.Tags {
		if !slices.Contains(r.Tags, tag) {
			r.Tags = append(r.Tags, tag)
		}
	}
	r.Scores = mergeMap(r.Scores, ev.Scores)
	r.Metadata = mergeMap(r.Metadata, ev.Metadata)
	r.Metrics = mergeMap(r.Metrics, ev.Metrics)
	if ev.DatasetRecordID != "" {
		r.DatasetRecordID = ev.DatasetRecordID
	}
	if !ev.Created.IsZero() {
		r.Created = ev.Created
	}
}

// fields flattens the record the way event-oriented backends want it.
func (r *spanRecord) fields() map[string]any {
	f := map[string]any{
		"trace.trace_id": r.TraceID,
		"trace.span_id":  r.SpanID,
		"name":           r.Name,
		"span.type":      string(r.Kind),
		"created":        r.Created.Format(time.RFC3339Nano),
	}
	if r.ParentID != "" {
		f["trace.parent_id"] = r.ParentID
	}
	if !r.End.IsZero() {
		f["duration_ms"] = float64(r.End.Sub(r.Start).Microseconds()) / 1000
	}
	if r.Input != nil {
		f["input"] = r.Input
	}
	if r.Output != nil {
		f["output"] = r.Output
	}
	if r.Expected != nil {
		f["expected"] = r.Expected
	}
	if len(r.Tags) > 0 {
		f["tags"] = strings.Join(r.Tags, ",")
	}
	if r.DatasetRecordID != "" {
		f["dataset_record_id"] = r.DatasetRecordID
	}
	for k, v := range r.Scores {
		f["scores."+k] = v
	}
	for k, v := range r.Metadata {
		f["metadata."+k] = v
	}
	for k, v := range r.Metrics {
		f["metrics."+k] = v
	}
	return f
}

func mergeMap[V any](dst, src map[string]V) map[string]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
