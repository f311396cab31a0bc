package main

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatingSink(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &recordingSink{}
	sink := WithValidation(rec)

	root, err := sink.StartSpan(nil, SpanArgs{Name: "span-0", Kind: KindFunction, Start: start})
	require.NoError(t, err)
	child, err := sink.StartSpan(root, SpanArgs{Name: "openai", Kind: KindLLM, Start: start})
	require.NoError(t, err)

	// the backend sees its own handles, correctly parented
	require.Len(t, rec.started, 2)
	assert.Same(t, rec.started[0], rec.started[1].parent)

	t.Run("invalid span args are rejected before the backend", func(t *testing.T) {
		_, err := sink.StartSpan(root, SpanArgs{Name: "", Kind: KindFunction, Start: start})
		assert.ErrorIs(t, err, ErrInvalidEvent)
		assert.Len(t, rec.started, 2)
	})

	t.Run("invalid event", func(t *testing.T) {
		err := child.Log(Event{Scores: map[string]float64{"Quality": 3}})
		assert.ErrorIs(t, err, ErrInvalidEvent)
		assert.Empty(t, rec.started[1].events)
	})

	t.Run("lifecycle", func(t *testing.T) {
		require.NoError(t, child.Log(Event{Output: "done"}))
		require.NoError(t, child.End(start.Add(time.Second)))
		assert.ErrorIs(t, child.End(start.Add(time.Second)), ErrSpanEnded)
		assert.ErrorIs(t, child.Log(Event{Output: "late"}), ErrSpanEnded)

		require.NoError(t, root.End(start.Add(time.Second)))
		_, err := sink.StartSpan(root, SpanArgs{Name: "late", Kind: KindFunction, Start: start})
		assert.ErrorIs(t, err, ErrSpanEnded)
		assert.Len(t, rec.ended, 2)
	})

	t.Run("foreign parent", func(t *testing.T) {
		_, err := sink.StartSpan(rec.started[0], SpanArgs{Name: "x", Kind: KindFunction, Start: start})
		assert.Error(t, err)
	})
}

func TestSpanRecord(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	root := newSpanRecord(nil, SpanArgs{
		Name:     "span-0",
		Kind:     KindFunction,
		Start:    start,
		Created:  start,
		Scores:   map[string]float64{"Quality": 0.5},
		Tags:     []string{"Sampled"},
		Metadata: map[string]any{"app": "web"},
	})
	child := newSpanRecord(root, SpanArgs{Name: "openai", Kind: KindLLM, Start: start, Created: start})

	assert.Empty(t, root.ParentID)
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.NotEqual(t, root.SpanID, child.SpanID)

	root.merge(Event{Input: "question", Tags: []string{"Sampled", "Toxic"}})
	root.merge(Event{Output: "answer", Metrics: map[string]float64{"tokens": 10}})
	root.End = start.Add(1500 * time.Millisecond)

	f := root.fields()
	assert.Equal(t, "span-0", f["name"])
	assert.Equal(t, "function", f["span.type"])
	assert.Equal(t, "question", f["input"])
	assert.Equal(t, "answer", f["output"])
	assert.Equal(t, "Sampled,Toxic", f["tags"])
	assert.Equal(t, 0.5, f["scores.Quality"])
	assert.Equal(t, "web", f["metadata.app"])
	assert.Equal(t, 10.0, f["metrics.tokens"])
	assert.Equal(t, 1500.0, f["duration_ms"])
	assert.NotContains(t, f, "trace.parent_id")
	assert.Equal(t, root.SpanID, child.fields()["trace.parent_id"])
}

func TestLogin(t *testing.T) {
	honeycomb, _ := url.Parse("https://api.honeycomb.io:443")
	local, _ := url.Parse("http://localhost:4317")

	tests := []struct {
		name    string
		sender  string
		host    *url.URL
		apikey  string
		wantErr bool
	}{
		{"honeycomb needs key", "honeycomb", honeycomb, "", true},
		{"honeycomb with key", "honeycomb", honeycomb, "abc", false},
		{"otel to honeycomb needs key", "otel", honeycomb, "", true},
		{"otel to collector", "otel", local, "", false},
		{"sqlite", "sqlite", local, "", false},
		{"dummy", "dummy", honeycomb, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := newOptions()
			opts.Output.Sender = tt.sender
			opts.Telemetry.APIKey = tt.apikey
			opts.apihost = tt.host
			err := login(opts)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSink(t *testing.T) {
	log := &testLogger{}
	opts := newOptions()
	opts.Output.Sender = "dummy"
	opts.Telemetry.Project = "load-test"
	sink, err := NewSink(context.Background(), log, opts)
	require.NoError(t, err)
	assert.IsType(t, validatingSink{}, sink)

	opts.Output.Sender = "carrier-pigeon"
	_, err = NewSink(context.Background(), log, opts)
	assert.Error(t, err)
}

func TestDummyAndPrintSinks(t *testing.T) {
	cfg := testRunConfig()
	log := &testLogger{}

	dummy := NewSinkDummy(log)
	synth := testSynthesizer(cfg, WithValidation(dummy), WorkerStream(0))
	for i := 0; i < 4; i++ {
		_, err := synth.RunRequest()
		require.NoError(t, err)
	}
	require.NoError(t, dummy.Flush(context.Background()))
	assert.Equal(t, int64(4), dummy.ntraces.Load())
	assert.Equal(t, int64(12), dummy.nspans.Load())
	require.NoError(t, dummy.Close())

	printer := NewSinkPrint(log, "load-test")
	synth = testSynthesizer(cfg, WithValidation(printer), WorkerStream(0))
	_, err := synth.RunRequest()
	require.NoError(t, err)
	require.NoError(t, printer.Flush(context.Background()))
	lines := log.Matching("load-test ")
	require.Len(t, lines, 3)
	// the llm span ends first
	assert.Contains(t, lines[0], "load-test openai")
}
