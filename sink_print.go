package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// make sure it implements Sink
var _ Sink = (*SinkPrint)(nil)

func ft(ts time.Time) string {
	return ts.Format("2006-01-02 15:04:05.000")
}

type printSpan struct {
	rec  *spanRecord
	sink *SinkPrint
}

func (s *printSpan) Log(ev Event) error {
	s.rec.merge(ev)
	return nil
}

func (s *printSpan) End(end time.Time) error {
	s.rec.End = end
	s.sink.nspans.Add(1)
	r := s.rec
	s.sink.log.Printf("%s %s - T:%6.6s S:%6.6s P:%6.6s start:%v end:%v %v\n",
		s.sink.project, r.Name, r.TraceID, r.SpanID, r.ParentID, ft(r.Start), ft(r.End), r.fields())
	return nil
}

// SinkPrint writes every span to stdout as soon as it ends; Flush has nothing
// left to do.
type SinkPrint struct {
	project string
	ntraces atomic.Int64
	nspans  atomic.Int64
	log     Logger
}

func NewSinkPrint(log Logger, project string) *SinkPrint {
	return &SinkPrint{
		project: project,
		log:     log,
	}
}

func (t *SinkPrint) StartSpan(parent SpanHandle, args SpanArgs) (SpanHandle, error) {
	var prec *spanRecord
	if parent != nil {
		p, ok := parent.(*printSpan)
		if !ok {
			return nil, fmt.Errorf("print sink: foreign parent span %T", parent)
		}
		prec = p.rec
	} else {
		t.ntraces.Add(1)
	}
	return &printSpan{rec: newSpanRecord(prec, args), sink: t}, nil
}

func (t *SinkPrint) Flush(context.Context) error {
	return nil
}

func (t *SinkPrint) Close() error {
	t.log.Warn("print sink wrote %d traces with %d spans", t.ntraces.Load(), t.nspans.Load())
	return nil
}
