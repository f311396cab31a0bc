package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

// make sure it implements Sink
var _ Sink = (*SinkOTel)(nil)

type otelSpan struct {
	ctx  context.Context
	span trace.Span
}

func (s *otelSpan) Log(ev Event) error {
	attrs, err := eventAttributes(ev)
	if err != nil {
		return err
	}
	s.span.SetAttributes(attrs...)
	return nil
}

func (s *otelSpan) End(end time.Time) error {
	s.span.End(trace.WithTimestamp(end))
	return nil
}

// SinkOTel maps spans onto OpenTelemetry spans with backdated timestamps and
// exports them through a batch span processor; Flush forces the batch out.
type SinkOTel struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	log    Logger
}

func NewSinkOTel(ctx context.Context, log Logger, opts *Options) (*SinkOTel, error) {
	var exporter sdktrace.SpanExporter
	var err error
	switch opts.Output.Protocol {
	case "grpc":
		exporter, err = otlptrace.New(ctx, setupOTELGRPCClient(opts))
	case "http":
		exporter, err = otlptrace.New(ctx, setupOTELHTTPClient(opts))
	case "stdout":
		exporter, err = stdouttrace.New()
	default:
		err = fmt.Errorf("unknown protocol: %s", opts.Output.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failure configuring otel trace exporter: %w", err)
	}

	// block instead of dropping when the queue is full, so that a completed
	// request always reaches the exporter
	bspOpts := []sdktrace.BatchSpanProcessorOption{sdktrace.WithBlocking()}
	if opts.Output.BatchTimeout != 0 {
		bspOpts = append(bspOpts, sdktrace.WithBatchTimeout(opts.Output.BatchTimeout))
	}
	if opts.Output.MaxQueueSize != 0 {
		bspOpts = append(bspOpts, sdktrace.WithMaxQueueSize(opts.Output.MaxQueueSize))
	}
	if opts.Output.MaxExportBatchSize != 0 {
		bspOpts = append(bspOpts, sdktrace.WithMaxExportBatchSize(opts.Output.MaxExportBatchSize))
	}
	if opts.Output.ExportTimeout != 0 {
		bspOpts = append(bspOpts, sdktrace.WithExportTimeout(opts.Output.ExportTimeout))
	}

	log.Info("otel sink exporting over %s to %s", opts.Output.Protocol, opts.apihost)
	return newSinkOTel(log, exporter, opts.Telemetry.Project, bspOpts...), nil
}

func newSinkOTel(log Logger, exporter sdktrace.SpanExporter, project string, bspOpts ...sdktrace.BatchSpanProcessorOption) *SinkOTel {
	bsp := sdktrace.NewBatchSpanProcessor(exporter, bspOpts...)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(bsp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", project))),
	)
	return &SinkOTel{
		tp:     tp,
		tracer: tp.Tracer(ResourceLibrary, trace.WithInstrumentationVersion(ResourceVersion)),
		log:    log,
	}
}

func (t *SinkOTel) StartSpan(parent SpanHandle, args SpanArgs) (SpanHandle, error) {
	ctx := context.Background()
	opts := []trace.SpanStartOption{
		trace.WithTimestamp(args.Start),
		trace.WithAttributes(spanArgsAttributes(args)...),
	}
	if parent != nil {
		p, ok := parent.(*otelSpan)
		if !ok {
			return nil, fmt.Errorf("otel sink: foreign parent span %T", parent)
		}
		ctx = p.ctx
	} else {
		opts = append(opts, trace.WithNewRoot())
	}
	ctx, span := t.tracer.Start(ctx, args.Name, opts...)
	return &otelSpan{ctx: ctx, span: span}, nil
}

func (t *SinkOTel) Flush(ctx context.Context) error {
	return t.tp.ForceFlush(ctx)
}

func (t *SinkOTel) Close() error {
	return t.tp.Shutdown(context.Background())
}

func spanArgsAttributes(args SpanArgs) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("span.type", string(args.Kind)),
	}
	if !args.Created.IsZero() {
		attrs = append(attrs, attribute.String("created", args.Created.Format(time.RFC3339Nano)))
	}
	if len(args.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice("tags", args.Tags))
	}
	for k, v := range args.Scores {
		attrs = append(attrs, attribute.Float64("scores."+k, v))
	}
	for k, v := range args.Metadata {
		attrs = append(attrs, scalarAttribute("metadata."+k, v))
	}
	return attrs
}

func eventAttributes(ev Event) ([]attribute.KeyValue, error) {
	var attrs []attribute.KeyValue
	for key, payload := range map[string]any{"input": ev.Input, "output": ev.Output, "expected": ev.Expected} {
		if payload == nil {
			continue
		}
		attr, err := payloadAttribute(key, payload)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	if len(ev.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice("tags", ev.Tags))
	}
	for k, v := range ev.Scores {
		attrs = append(attrs, attribute.Float64("scores."+k, v))
	}
	for k, v := range ev.Metadata {
		attrs = append(attrs, scalarAttribute("metadata."+k, v))
	}
	for k, v := range ev.Metrics {
		attrs = append(attrs, attribute.Float64("metrics."+k, v))
	}
	if ev.DatasetRecordID != "" {
		attrs = append(attrs, attribute.String("dataset_record_id", ev.DatasetRecordID))
	}
	if !ev.Created.IsZero() {
		attrs = append(attrs, attribute.String("created", ev.Created.Format(time.RFC3339Nano)))
	}
	return attrs, nil
}

// strings go out as-is; anything structured is sent as JSON text
func payloadAttribute(key string, v any) (attribute.KeyValue, error) {
	if s, ok := v.(string); ok {
		return attribute.String(key, s), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return attribute.KeyValue{}, fmt.Errorf("encoding %s: %w", key, err)
	}
	return attribute.String(key, string(b)), nil
}

func scalarAttribute(key string, v any) attribute.KeyValue {
	switch v := v.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

func setupOTELHTTPClient(opts *Options) otlptrace.Client {
	options := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(opts.apihost.Host),
		otlptracehttp.WithHeaders(map[string]string{
			"x-honeycomb-team":    opts.Telemetry.APIKey,
			"x-honeycomb-dataset": opts.Telemetry.Project,
		}),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracehttp.WithInsecure())
	} else {
		options = append(options, otlptracehttp.WithTLSClientConfig(&tls.Config{}))
	}
	return otlptracehttp.NewClient(options...)
}

func setupOTELGRPCClient(opts *Options) otlptrace.Client {
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.apihost.Host),
		otlptracegrpc.WithHeaders(map[string]string{
			"x-honeycomb-team":    opts.Telemetry.APIKey,
			"x-honeycomb-dataset": opts.Telemetry.Project,
		}),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	} else {
		options = append(options, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.NewClient(options...)
}
