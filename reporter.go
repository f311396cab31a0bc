package main

import (
	"sync"
	"time"
)

// RateSample is one reporter reading.
type RateSample struct {
	Diff      int64
	Interval  time.Duration
	Rate      float64 // requests/s over Interval
	TotalRate float64 // requests/s since the reporter started
}

// computeRates turns two counter readings into rates.
func computeRates(count, last int64, sinceLast, sinceStart time.Duration) RateSample {
	diff := count - last
	return RateSample{
		Diff:      diff,
		Interval:  sinceLast,
		Rate:      perSecond(diff, sinceLast),
		TotalRate: perSecond(count, sinceStart),
	}
}

// perSecond is n/d in units per second, and 0 for a non-positive duration.
func perSecond(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// Reporter prints the global request rate at a fixed interval while the
// workers run. Stop prints one last line covering the partial interval.
type Reporter struct {
	counter  *RequestCounter
	interval time.Duration
	log      Logger
	metrics  *Metrics

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewReporter(counter *RequestCounter, interval time.Duration, metrics *Metrics, log Logger) *Reporter {
	return &Reporter{
		counter:  counter,
		interval: interval,
		log:      log,
		metrics:  metrics,
		done:     make(chan struct{}),
	}
}

func (r *Reporter) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop ends the reporting loop and waits for its final line. It is safe to
// call more than once.
func (r *Reporter) Stop() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Reporter) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	start := time.Now()
	lastMeasure := start
	var lastTotal int64
	sample := func(now time.Time) RateSample {
		total := r.counter.Load()
		s := computeRates(total, lastTotal, now.Sub(lastMeasure), now.Sub(start))
		lastMeasure, lastTotal = now, total
		return s
	}

	for {
		select {
		case now := <-ticker.C:
			r.print(sample(now))
		case <-r.done:
			if s := sample(time.Now()); s.Diff > 0 {
				r.print(s)
			}
			return
		}
	}
}

func (r *Reporter) print(s RateSample) {
	r.metrics.ReportRate(s)
	r.log.Printf("-- Processed %-3d requests in %6.2fs.    "+
		"Rate: %8.2f requests/s.    "+
		"Total rate: %8.2f requests/s.\n",
		s.Diff, s.Interval.Seconds(), s.Rate, s.TotalRate)
}
