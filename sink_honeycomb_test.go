package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/honeycombio/libhoney-go"
	"github.com/honeycombio/libhoney-go/transmission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHoneycombSink(t *testing.T) (*SinkHoneycomb, *transmission.MockSender) {
	t.Helper()
	mock := &transmission.MockSender{}
	s, err := newSinkHoneycomb(&testLogger{}, libhoney.ClientConfig{
		APIKey:       "test-key",
		Dataset:      "load-test",
		Transmission: mock,
	})
	require.NoError(t, err)
	return s, mock
}

func TestSinkHoneycomb(t *testing.T) {
	s, mock := newTestHoneycombSink(t)
	cfg := testRunConfig()
	synth := testSynthesizer(cfg, WithValidation(s), WorkerStream(0))

	_, err := synth.RunRequest()
	require.NoError(t, err)
	require.NoError(t, s.Flush(context.Background()))

	events := mock.Events()
	require.Len(t, events, 3)
	// the llm span ends, and is sent, first
	llm, mid, root := events[0], events[1], events[2]
	assert.Equal(t, "openai", llm.Data["name"])
	assert.Equal(t, "llm", llm.Data["span.type"])
	assert.Equal(t, "span-0", root.Data["name"])
	assert.Equal(t, "load-test", root.Data["service.name"])
	assert.Equal(t, "load-test", root.Dataset)

	assert.Equal(t, root.Data["trace.trace_id"], llm.Data["trace.trace_id"])
	assert.Equal(t, mid.Data["trace.span_id"], llm.Data["trace.parent_id"])
	assert.Equal(t, root.Data["trace.span_id"], mid.Data["trace.parent_id"])
	assert.NotContains(t, root.Data, "trace.parent_id")

	assert.Equal(t, root.Timestamp, llm.Timestamp)
	assert.Equal(t, 100.0, llm.Data["metrics.total_tokens"])
	assert.Contains(t, root.Data, "scores.Quality")

	require.NoError(t, s.Close())
}

func TestSinkHoneycombFailures(t *testing.T) {
	s, _ := newTestHoneycombSink(t)
	defer s.Close()

	s.recordResponse(transmission.Response{StatusCode: 202})
	require.NoError(t, s.Flush(context.Background()))

	s.recordResponse(transmission.Response{StatusCode: 401, Body: []byte("unknown API key")})
	s.recordResponse(transmission.Response{StatusCode: 500})
	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 honeycomb events failed")
	assert.Contains(t, err.Error(), "status 500")

	// failures are reported once
	require.NoError(t, s.Flush(context.Background()))
}

func TestSinkHoneycombFlushReturnsRejectedBatch(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unknown API key - check your credentials"}`))
	}))
	defer srv.Close()

	s, err := newSinkHoneycomb(&testLogger{}, libhoney.ClientConfig{
		APIKey:  "bad-key",
		Dataset: "load-test",
		APIHost: srv.URL,
	})
	require.NoError(t, err)
	cfg := testRunConfig()
	synth := testSynthesizer(cfg, WithValidation(s), WorkerStream(0))

	// every flush sees the rejection of its own batch
	for i := 0; i < 5; i++ {
		_, err := synth.RunRequest()
		require.NoError(t, err)
		err = s.Flush(context.Background())
		require.Error(t, err, "flush %d", i)
		assert.Contains(t, err.Error(), "3 honeycomb events failed")
		assert.Contains(t, err.Error(), "status 401")
	}
	assert.Positive(t, posts.Load())

	// nothing left over for Close to report
	require.NoError(t, s.Close())
}
