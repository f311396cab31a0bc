package main

import (
	"context"
	"fmt"
	"time"
)

// Worker runs its share of the requests, flushing the sink every
// FlushInterval requests. Workers never wait on each other; the counter is the
// only thing they share.
type Worker struct {
	ID      int
	cfg     *RunConfig
	synth   *RequestSynthesizer
	sink    Sink
	counter *RequestCounter
	metrics *Metrics
	log     Logger
}

func NewWorker(id int, cfg *RunConfig, synth *RequestSynthesizer, sink Sink, counter *RequestCounter, metrics *Metrics, log Logger) *Worker {
	return &Worker{
		ID:      id,
		cfg:     cfg,
		synth:   synth,
		sink:    sink,
		counter: counter,
		metrics: metrics,
		log:     log,
	}
}

// Run executes the worker's quota and returns how many requests it completed.
// ctx is only checked between requests; when it is cancelled, requests not yet
// flushed are flushed before returning ctx's error.
func (w *Worker) Run(ctx context.Context) (int, error) {
	quota := w.cfg.PerWorker
	start := time.Now()
	flushed := 0
	for i := 0; i < quota; i++ {
		if err := ctx.Err(); err != nil {
			if i > flushed {
				if ferr := w.flush(ctx); ferr != nil {
					w.log.Warn("worker %d: flush after abort: %v", w.ID, ferr)
				}
			}
			return i, err
		}

		stats, err := w.synth.RunRequest()
		if err != nil {
			return i, fmt.Errorf("worker %d request %d: %w", w.ID, i+1, err)
		}
		w.counter.Inc()
		w.metrics.RequestDone(stats)

		done := i + 1
		if done%w.cfg.FlushInterval != 0 && done != quota {
			continue
		}
		preFlush := time.Now()
		err = w.flush(ctx)
		postFlush := time.Now()
		flushTime := postFlush.Sub(preFlush)
		w.metrics.FlushDone(flushTime, err)
		if err != nil {
			return done, fmt.Errorf("worker %d flush after %d requests: %w", w.ID, done, err)
		}

		batch := done - flushed
		w.log.Printf("Thread %-3d processed %-3d requests (%d / %d).    "+
			"Processing time: %6.2fs.    "+
			"Flush time: %6.2fs.    "+
			"Batch req/s: %8.2f.    "+
			"Total req/s: %8.2f    "+
			"Target req/s: %8.2f    \n",
			w.ID, batch, done, quota,
			preFlush.Sub(start).Seconds(),
			flushTime.Seconds(),
			perSecond(int64(batch), flushTime),
			perSecond(int64(done), postFlush.Sub(start)),
			w.cfg.TargetRate(),
		)
		flushed = done
	}
	return quota, nil
}

// flush is not cancelled with the run, so an abort still gets the pending
// spans out; only the optional flush timeout bounds it.
func (w *Worker) flush(ctx context.Context) error {
	fctx := context.WithoutCancel(ctx)
	if w.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(fctx, w.cfg.FlushTimeout)
		defer cancel()
	}
	return w.sink.Flush(fctx)
}
