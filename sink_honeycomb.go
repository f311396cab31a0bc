package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/honeycombio/libhoney-go"
	"github.com/honeycombio/libhoney-go/transmission"
)

// make sure it implements Sink
var _ Sink = (*SinkHoneycomb)(nil)

type honeySpan struct {
	rec  *spanRecord
	sink *SinkHoneycomb
}

func (s *honeySpan) Log(ev Event) error {
	s.rec.merge(ev)
	return nil
}

func (s *honeySpan) End(end time.Time) error {
	s.rec.End = end
	ev := s.sink.builder.NewEvent()
	ev.Timestamp = s.rec.Start
	for k, v := range s.rec.fields() {
		ev.AddField(k, v)
	}
	if err := ev.Send(); err != nil {
		return fmt.Errorf("sending span %s: %w", s.rec.Name, err)
	}
	return nil
}

// SinkHoneycomb sends each span as one Honeycomb event when it ends. libhoney
// batches in the background; Flush blocks until everything queued so far has
// been transmitted and reports send failures seen since the previous Flush.
type SinkHoneycomb struct {
	client    *libhoney.Client
	builder   *libhoney.Builder
	responses chan transmission.Response
	log       Logger

	// guards draining responses and the failure tally
	respMu   sync.Mutex
	failures int
	lastErr  string
}

func NewSinkHoneycomb(log Logger, opts *Options) (*SinkHoneycomb, error) {
	return newSinkHoneycomb(log, libhoney.ClientConfig{
		APIKey:  opts.Telemetry.APIKey,
		Dataset: opts.Telemetry.Project,
		APIHost: opts.apihost.String(),
	})
}

func newSinkHoneycomb(log Logger, cfg libhoney.ClientConfig) (*SinkHoneycomb, error) {
	client, err := libhoney.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create honeycomb client: %w", err)
	}
	builder := client.NewBuilder()
	builder.AddField("service.name", cfg.Dataset)
	builder.AddField("meta.loadgen_version", ResourceVersion)

	return &SinkHoneycomb{
		client:    client,
		builder:   builder,
		responses: client.TxResponses(),
		log:       log,
	}, nil
}

// drainResponses records every response already queued by the transmission.
// Once client.Flush has returned, the responses for all flushed batches are
// in the channel.
func (t *SinkHoneycomb) drainResponses() {
	for {
		select {
		case resp, ok := <-t.responses:
			if !ok {
				return
			}
			t.recordResponse(resp)
		default:
			return
		}
	}
}

func (t *SinkHoneycomb) recordResponse(resp transmission.Response) {
	if resp.Err == nil && resp.StatusCode < 400 {
		return
	}
	t.failures++
	t.lastErr = fmt.Sprintf("status %d err %v body %s", resp.StatusCode, resp.Err, resp.Body)
	t.log.Debug("error sending event: status %d err %v", resp.StatusCode, resp.Err)
}

// takeFailures drains pending responses and returns an error for the failures
// seen since the last call.
func (t *SinkHoneycomb) takeFailures() error {
	t.respMu.Lock()
	defer t.respMu.Unlock()
	t.drainResponses()
	if t.failures == 0 {
		return nil
	}
	err := fmt.Errorf("%d honeycomb events failed to send, last: %s", t.failures, t.lastErr)
	t.failures = 0
	return err
}

func (t *SinkHoneycomb) StartSpan(parent SpanHandle, args SpanArgs) (SpanHandle, error) {
	var prec *spanRecord
	if parent != nil {
		p, ok := parent.(*honeySpan)
		if !ok {
			return nil, fmt.Errorf("honeycomb sink: foreign parent span %T", parent)
		}
		prec = p.rec
	}
	return &honeySpan{rec: newSpanRecord(prec, args), sink: t}, nil
}

func (t *SinkHoneycomb) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		t.client.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		return fmt.Errorf("honeycomb flush: %w", ctx.Err())
	}
	return t.takeFailures()
}

func (t *SinkHoneycomb) Close() error {
	t.client.Close()
	return t.takeFailures()
}
