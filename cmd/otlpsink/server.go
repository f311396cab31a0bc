package main

import (
	"context"
	"sync"

	cuckoo "github.com/panmari/cuckoofilter"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	tracev1 "go.opentelemetry.io/proto/otlp/trace/v1"
)

const (
	spanTypeKey    = "span.type"
	llmSpanType    = "llm"
	totalTokensKey = "metrics.total_tokens"
)

// Stats are the totals received so far. Trace and span counts come from cuckoo
// filters, so they can be slightly low when a new ID collides with a seen one.
type Stats struct {
	Traces   int
	Spans    int
	LLMSpans int
	Tokens   int64
}

// TraceServer counts what llmloadgen sends it. It serves OTLP/gRPC through
// Export and OTLP/HTTP through the handler built by newHTTPHandler.
type TraceServer struct {
	collectortrace.UnimplementedTraceServiceServer

	mu     sync.Mutex
	traces *cuckoo.Filter
	spans  *cuckoo.Filter
	stats  Stats
	rates  *SpanRateTracker
}

func NewTraceServer(capacity uint, rates *SpanRateTracker) *TraceServer {
	return &TraceServer{
		traces: cuckoo.NewFilter(capacity),
		spans:  cuckoo.NewFilter(capacity),
		rates:  rates,
	}
}

func (t *TraceServer) Export(ctx context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	t.Process(req)
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

// Process records every span in req and returns how many were new.
func (t *TraceServer) Process(req *collectortrace.ExportTraceServiceRequest) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, resource := range req.GetResourceSpans() {
		for _, scope := range resource.GetScopeSpans() {
			for _, span := range scope.GetSpans() {
				traceID := span.GetTraceId()
				spanID := span.GetSpanId()
				if !t.traces.Lookup(traceID) {
					t.traces.Insert(traceID)
					t.stats.Traces++
				}
				if t.spans.Lookup(spanID) {
					// a retried export; don't count its tokens twice
					continue
				}
				t.spans.Insert(spanID)
				added++
				t.stats.Spans++
				if isLLMSpan(span) {
					t.stats.LLMSpans++
					t.stats.Tokens += totalTokens(span)
				}
			}
		}
	}
	if t.rates != nil && added > 0 {
		t.rates.TrackSpans(added)
	}
	return added
}

func (t *TraceServer) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func isLLMSpan(span *tracev1.Span) bool {
	v := attributeValue(span.GetAttributes(), spanTypeKey)
	return v != nil && v.GetStringValue() == llmSpanType
}

func totalTokens(span *tracev1.Span) int64 {
	v := attributeValue(span.GetAttributes(), totalTokensKey)
	if v == nil {
		return 0
	}
	switch val := v.GetValue().(type) {
	case *commonv1.AnyValue_DoubleValue:
		return int64(val.DoubleValue)
	case *commonv1.AnyValue_IntValue:
		return val.IntValue
	}
	return 0
}

func attributeValue(attrs []*commonv1.KeyValue, key string) *commonv1.AnyValue {
	for _, kv := range attrs {
		if kv.GetKey() == key {
			return kv.GetValue()
		}
	}
	return nil
}
