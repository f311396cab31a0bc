package main

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"
)

// token budget split of a request
const (
	systemPromptShare = 0.5
	userInputShare    = 0.2
	completionShare   = 0.3
)

const secondsPerDay = 86400

var errInvalidConfig = errors.New("invalid configuration")

// RunConfig is everything a run needs, derived once from the command line and
// never modified afterwards.
type RunConfig struct {
	TotalRequests    int
	PerWorker        int
	RequestsPerDay   int
	TokensPerRequest int
	Jitter           float64
	SpansPerRequest  int
	SamplingRate     float64
	FlushInterval    int
	FlushTimeout     time.Duration
	Threads          int
	Seed             int64
	Model            string
	Tokenizer        string
	ReportInterval   time.Duration

	SystemTokens     int
	UserTokens       int
	CompletionTokens int
}

// NewRunConfig validates the load options and computes the derived values.
func NewRunConfig(opts *Options) (*RunConfig, error) {
	cfg := &RunConfig{
		TotalRequests:    opts.Load.TotalRequests,
		RequestsPerDay:   opts.Load.RequestsPerDay,
		TokensPerRequest: opts.Format.TokensPerRequest,
		Jitter:           opts.Format.Jitter,
		SpansPerRequest:  opts.Format.SpansPerRequest,
		SamplingRate:     opts.Format.SamplingRate,
		FlushInterval:    opts.Load.FlushInterval,
		FlushTimeout:     opts.Load.FlushTimeout,
		Threads:          opts.Load.Threads,
		Seed:             opts.Global.Seed,
		Model:            opts.Format.Model,
		Tokenizer:        opts.Format.Tokenizer,
		ReportInterval:   opts.Global.ReportInterval,
	}

	switch {
	case cfg.TotalRequests < 0:
		return nil, fmt.Errorf("%w: totalrequests must not be negative, got %d", errInvalidConfig, cfg.TotalRequests)
	case cfg.RequestsPerDay < 0:
		return nil, fmt.Errorf("%w: requestsperday must not be negative, got %d", errInvalidConfig, cfg.RequestsPerDay)
	case cfg.TokensPerRequest < 0:
		return nil, fmt.Errorf("%w: tokensperrequest must not be negative, got %d", errInvalidConfig, cfg.TokensPerRequest)
	case cfg.SpansPerRequest < 1:
		return nil, fmt.Errorf("%w: spansperrequest must be at least 1, got %d", errInvalidConfig, cfg.SpansPerRequest)
	case cfg.FlushInterval < 1:
		return nil, fmt.Errorf("%w: flushinterval must be at least 1, got %d", errInvalidConfig, cfg.FlushInterval)
	case cfg.FlushTimeout < 0:
		return nil, fmt.Errorf("%w: flushtimeout must not be negative, got %v", errInvalidConfig, cfg.FlushTimeout)
	case cfg.Threads < 0:
		return nil, fmt.Errorf("%w: threads must not be negative, got %d", errInvalidConfig, cfg.Threads)
	case !inUnitInterval(cfg.Jitter):
		return nil, fmt.Errorf("%w: jitter must be in [0, 1], got %v", errInvalidConfig, cfg.Jitter)
	case !inUnitInterval(cfg.SamplingRate):
		return nil, fmt.Errorf("%w: samplingrate must be in [0, 1], got %v", errInvalidConfig, cfg.SamplingRate)
	}

	if cfg.Threads == 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 2 * time.Second
	}
	// every worker does the same amount of work, so the total can overshoot
	cfg.PerWorker = (cfg.TotalRequests + cfg.Threads - 1) / cfg.Threads

	cfg.SystemTokens = tokenShare(cfg.TokensPerRequest, systemPromptShare)
	cfg.UserTokens = tokenShare(cfg.TokensPerRequest, userInputShare)
	cfg.CompletionTokens = tokenShare(cfg.TokensPerRequest, completionShare)
	return cfg, nil
}

// TargetRate is the configured requests per day expressed per second. It is
// reported next to the observed rates but never enforced.
func (c *RunConfig) TargetRate() float64 {
	return float64(c.RequestsPerDay) / secondsPerDay
}

func tokenShare(total int, share float64) int {
	return int(math.Ceil(float64(total) * share))
}

func inUnitInterval(f float64) bool {
	return f >= 0 && f <= 1
}
