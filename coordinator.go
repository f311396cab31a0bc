package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const systemPromptStream = "system-prompt"

// Summary describes a finished run.
type Summary struct {
	Requests int64
	Duration time.Duration
}

// Coordinator owns a run: the shared system prompt, the workers, and the
// reporter.
type Coordinator struct {
	cfg     *RunConfig
	tok     Tokenizer
	prompt  SystemPrompt
	metrics *Metrics
	log     Logger
	counter RequestCounter
}

// NewCoordinator generates the system prompt every request shares.
func NewCoordinator(cfg *RunConfig, tok Tokenizer, metrics *Metrics, log Logger) (*Coordinator, error) {
	text := NewTextSynthesizer(tok, NewRng(cfg.Seed, systemPromptStream))
	prompt, ntokens, err := text.Generate(cfg.SystemTokens)
	if err != nil {
		return nil, fmt.Errorf("generating system prompt: %w", err)
	}
	log.Info("system prompt has %d tokens (target %d); user %d, completion %d",
		ntokens, cfg.SystemTokens, cfg.UserTokens, cfg.CompletionTokens)
	return &Coordinator{
		cfg:     cfg,
		tok:     tok,
		prompt:  SystemPrompt{Text: prompt, Tokens: ntokens},
		metrics: metrics,
		log:     log,
	}, nil
}

func (c *Coordinator) SystemPrompt() SystemPrompt {
	return c.prompt
}

// Requests is the number of requests completed so far.
func (c *Coordinator) Requests() int64 {
	return c.counter.Load()
}

func (c *Coordinator) newWorker(id int, sink Sink) *Worker {
	rng := NewRng(c.cfg.Seed, WorkerStream(id))
	text := NewTextSynthesizer(c.tok, rng)
	synth := NewRequestSynthesizer(c.cfg, sink, text, rng, c.prompt)
	return NewWorker(id, c.cfg, synth, sink, &c.counter, c.metrics, c.log)
}

// Run drives every worker to completion against sink. The first worker error
// cancels the rest, which stop after their current request; that error is
// returned. The sink is not closed.
func (c *Coordinator) Run(ctx context.Context, sink Sink) (Summary, error) {
	start := time.Now()
	reporter := NewReporter(&c.counter, c.cfg.ReportInterval, c.metrics, c.log)
	reporter.Start()

	var err error
	if c.cfg.Threads == 1 {
		_, err = c.newWorker(0, sink).Run(ctx)
	} else {
		eg, ectx := errgroup.WithContext(ctx)
		for i := 0; i < c.cfg.Threads; i++ {
			w := c.newWorker(i, sink)
			eg.Go(func() error {
				n, err := w.Run(ectx)
				c.log.Debug("worker %d finished after %d requests", w.ID, n)
				return err
			})
		}
		err = eg.Wait()
	}

	reporter.Stop()
	summary := Summary{Requests: c.counter.Load(), Duration: time.Since(start)}
	c.log.Printf("Total time: %.2fs\n", summary.Duration.Seconds())
	return summary, err
}
