package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	tracev1 "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

func strAttr(k, v string) *commonv1.KeyValue {
	return &commonv1.KeyValue{Key: k, Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: v}}}
}

func doubleAttr(k string, v float64) *commonv1.KeyValue {
	return &commonv1.KeyValue{Key: k, Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_DoubleValue{DoubleValue: v}}}
}

func id(n byte, size int) []byte {
	b := make([]byte, size)
	b[size-1] = n
	return b
}

// one trace of three spans, the last of them an llm span reporting tokens
func testRequest(trace byte, firstSpan byte, tokens float64) *collectortrace.ExportTraceServiceRequest {
	spans := []*tracev1.Span{
		{TraceId: id(trace, 16), SpanId: id(firstSpan, 8), Name: "span-0", Attributes: []*commonv1.KeyValue{strAttr("span.type", "function")}},
		{TraceId: id(trace, 16), SpanId: id(firstSpan+1, 8), Name: "span-1", Attributes: []*commonv1.KeyValue{strAttr("span.type", "function")}},
		{TraceId: id(trace, 16), SpanId: id(firstSpan+2, 8), Name: "openai", Attributes: []*commonv1.KeyValue{
			strAttr("span.type", "llm"),
			doubleAttr("metrics.total_tokens", tokens),
		}},
	}
	return &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracev1.ResourceSpans{{
			ScopeSpans: []*tracev1.ScopeSpans{{Spans: spans}},
		}},
	}
}

func TestTraceServerProcess(t *testing.T) {
	rates := NewSpanRateTracker()
	ts := NewTraceServer(1000, rates)

	assert.Equal(t, 3, ts.Process(testRequest(1, 1, 900)))
	assert.Equal(t, 3, ts.Process(testRequest(2, 10, 1100)))
	// a retried export is not counted again
	assert.Equal(t, 0, ts.Process(testRequest(2, 10, 1100)))

	assert.Equal(t, Stats{Traces: 2, Spans: 6, LLMSpans: 2, Tokens: 2000}, ts.Stats())
	assert.Equal(t, 6, rates.Summary().TotalSpans)
}

func TestTraceServerExport(t *testing.T) {
	ts := NewTraceServer(1000, nil)
	resp, err := ts.Export(context.Background(), testRequest(1, 1, 42))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, int64(42), ts.Stats().Tokens)
}

func TestHTTPHandler(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	t.Run("protobuf", func(t *testing.T) {
		ts := NewTraceServer(1000, nil)
		srv := httptest.NewServer(newHTTPHandler(log, ts))
		defer srv.Close()

		body, err := proto.Marshal(testRequest(1, 1, 10))
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+"/v1/traces", contentTypeProtobuf, bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, contentTypeProtobuf, resp.Header.Get("Content-Type"))
		assert.Equal(t, 3, ts.Stats().Spans)
	})

	t.Run("json", func(t *testing.T) {
		ts := NewTraceServer(1000, nil)
		srv := httptest.NewServer(newHTTPHandler(log, ts))
		defer srv.Close()

		body, err := protojson.Marshal(testRequest(1, 1, 10))
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+"/v1/traces", contentTypeJSON, bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, Stats{Traces: 1, Spans: 3, LLMSpans: 1, Tokens: 10}, ts.Stats())
	})

	t.Run("bad payload", func(t *testing.T) {
		ts := NewTraceServer(1000, nil)
		srv := httptest.NewServer(newHTTPHandler(log, ts))
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/v1/traces", contentTypeJSON, bytes.NewReader([]byte("{not json")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		ts := NewTraceServer(1000, nil)
		srv := httptest.NewServer(newHTTPHandler(log, ts))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/v1/traces")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestListenAddr(t *testing.T) {
	assert.Equal(t, "localhost:4317", Options{Protocol: "grpc", Host: "localhost"}.listenAddr())
	assert.Equal(t, "localhost:4318", Options{Protocol: "http", Host: "localhost"}.listenAddr())
	assert.Equal(t, "0.0.0.0:9999", Options{Protocol: "http", Host: "0.0.0.0", Port: 9999}.listenAddr())
}
