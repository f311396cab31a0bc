package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// testLogger keeps every line so tests can look at progress output.
type testLogger struct {
	mu    sync.Mutex
	lines []string
}

var _ Logger = (*testLogger)(nil)

func (l *testLogger) add(prefix, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, prefix+fmt.Sprintf(format, v...))
}

func (l *testLogger) Printf(format string, v ...interface{}) { l.add("", format, v...) }
func (l *testLogger) Debug(format string, v ...interface{})  { l.add("DEBUG ", format, v...) }
func (l *testLogger) Info(format string, v ...interface{})   { l.add("INFO ", format, v...) }
func (l *testLogger) Warn(format string, v ...interface{})   { l.add("WARN ", format, v...) }
func (l *testLogger) Error(format string, v ...interface{})  { l.add("ERROR ", format, v...) }
func (l *testLogger) Fatal(format string, v ...interface{}) {
	panic(fmt.Sprintf(format, v...))
}

// Matching returns the lines that start with prefix.
func (l *testLogger) Matching(prefix string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, line := range l.lines {
		if strings.HasPrefix(line, prefix) {
			out = append(out, line)
		}
	}
	return out
}

type recordedSpan struct {
	parent *recordedSpan
	args   SpanArgs
	events []Event
	end    time.Time
	sink   *recordingSink
}

func (s *recordedSpan) Log(ev Event) error {
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordedSpan) End(end time.Time) error {
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	s.end = end
	s.sink.ended = append(s.sink.ended, s)
	if s.parent == nil {
		s.sink.unflushed++
	}
	return nil
}

func (s *recordedSpan) depth() int {
	d := 0
	for p := s.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// metric returns the value logged for name, across all events.
func (s *recordedSpan) metric(name string) (float64, bool) {
	for _, ev := range s.events {
		if v, ok := ev.Metrics[name]; ok {
			return v, true
		}
	}
	return 0, false
}

var errInjected = errors.New("injected failure")

// recordingSink keeps every span in memory and, for each Flush, the number of
// traces completed since the previous one.
type recordingSink struct {
	mu        sync.Mutex
	started   []*recordedSpan
	ended     []*recordedSpan
	unflushed int
	flushes   []int
	closed    bool

	failStartAfter int // fail StartSpan once this many spans exist (0 = never)
	flushErr       error
	closeErr       error
	onFlush        func(n int)
}

var _ Sink = (*recordingSink)(nil)

func (r *recordingSink) StartSpan(parent SpanHandle, args SpanArgs) (SpanHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStartAfter > 0 && len(r.started) >= r.failStartAfter {
		return nil, errInjected
	}
	s := &recordedSpan{args: args, sink: r}
	if parent != nil {
		s.parent = parent.(*recordedSpan)
	}
	r.started = append(r.started, s)
	return s, nil
}

func (r *recordingSink) Flush(context.Context) error {
	r.mu.Lock()
	n := r.unflushed
	r.unflushed = 0
	r.flushes = append(r.flushes, n)
	hook := r.onFlush
	r.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return r.flushErr
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.closeErr
}

func (r *recordingSink) Flushes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.flushes...)
}

// traces groups started spans by their root, in creation order.
func (r *recordingSink) traces() [][]*recordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]*recordedSpan
	index := map[*recordedSpan]int{}
	for _, s := range r.started {
		root := s
		for root.parent != nil {
			root = root.parent
		}
		i, ok := index[root]
		if !ok {
			i = len(out)
			index[root] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], s)
	}
	return out
}

// testRunConfig is a small run with the word tokenizer and no jitter.
func testRunConfig() *RunConfig {
	return &RunConfig{
		TotalRequests:    10,
		PerWorker:        10,
		RequestsPerDay:   86400,
		TokensPerRequest: 100,
		Jitter:           0,
		SpansPerRequest:  3,
		SamplingRate:     0.1,
		FlushInterval:    5,
		Threads:          1,
		Seed:             42,
		Model:            "gpt-3.5-turbo",
		Tokenizer:        "words",
		ReportInterval:   time.Hour,
		SystemTokens:     50,
		UserTokens:       20,
		CompletionTokens: 30,
	}
}

func testSynthesizer(cfg *RunConfig, sink Sink, stream string) *RequestSynthesizer {
	tok := NewWordTokenizer()
	rng := NewRng(cfg.Seed, stream)
	prompt, n, err := NewTextSynthesizer(tok, NewRng(cfg.Seed, systemPromptStream)).Generate(cfg.SystemTokens)
	if err != nil {
		panic(err)
	}
	return NewRequestSynthesizer(cfg, sink, NewTextSynthesizer(tok, rng), rng, SystemPrompt{Text: prompt, Tokens: n})
}
