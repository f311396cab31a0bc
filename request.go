package main

import (
	"fmt"
	"math"
	"time"
)

var (
	apps        = []string{"mobile", "web", "backend", "frontend", "api", "cli", "other"}
	regions     = []string{"us-west", "us-east", "eu-west", "eu-east", "ap-southeast", "ap-northeast"}
	userTenures = []string{"new", "returning", "loyal"}
)

const (
	// simulated request duration is uniform in [0, maxSimulatedDuration)
	maxSimulatedDuration = 120 * time.Second
	// requests are backdated by up to this much, so a run looks like a month
	// of historical traffic
	maxSimulatedOffset = 30 * 24 * time.Hour

	llmSpanName = "openai"
	temperature = 0.7
)

// Trace is the simulated shape of one request before it is logged.
type Trace struct {
	InputTokens  int // jittered target, not the realized count
	OutputTokens int
	Start        time.Time
	Duration     time.Duration
}

func (t Trace) End() time.Time {
	return t.Start.Add(t.Duration)
}

// SystemPrompt is generated once per run and shared read-only by every worker.
type SystemPrompt struct {
	Text   string
	Tokens int
}

// RequestStats describes what one RunRequest logged.
type RequestStats struct {
	Spans            int
	PromptTokens     int
	CompletionTokens int
}

// RequestSynthesizer builds and logs synthetic traces. It belongs to one worker.
type RequestSynthesizer struct {
	cfg    *RunConfig
	sink   Sink
	text   *TextSynthesizer
	rng    Rng
	prompt SystemPrompt
	now    func() time.Time
}

func NewRequestSynthesizer(cfg *RunConfig, sink Sink, text *TextSynthesizer, rng Rng, prompt SystemPrompt) *RequestSynthesizer {
	return &RequestSynthesizer{
		cfg:    cfg,
		sink:   sink,
		text:   text,
		rng:    rng,
		prompt: prompt,
		now:    time.Now,
	}
}

// jitter spreads target symmetrically by up to ±jitter/2 for u in [0, 1),
// rounding up.
func jitter(target int, jitter, u float64) int {
	return int(math.Ceil(float64(target) * (1 + jitter*(u-0.5))))
}

// RunRequest synthesizes one trace and logs it: a chain of function spans with
// an llm span at the bottom. The llm span ends first, then its ancestors from
// the innermost out. Any sink error is returned as is.
func (r *RequestSynthesizer) RunRequest() (RequestStats, error) {
	var stats RequestStats

	tr := Trace{InputTokens: jitter(r.cfg.UserTokens, r.cfg.Jitter, r.rng.Float64())}
	input, inputTokens, err := r.text.Generate(tr.InputTokens)
	if err != nil {
		return stats, fmt.Errorf("generating input text: %w", err)
	}
	tr.OutputTokens = jitter(r.cfg.CompletionTokens, r.cfg.Jitter, r.rng.Float64())
	output, outputTokens, err := r.text.Generate(tr.OutputTokens)
	if err != nil {
		return stats, fmt.Errorf("generating output text: %w", err)
	}

	tr.Duration = time.Duration(r.rng.Float64() * float64(maxSimulatedDuration))
	offset := time.Duration(r.rng.Float64() * float64(maxSimulatedOffset))
	tr.Start = r.now().Add(-offset - tr.Duration)

	var parent SpanHandle
	spans := make([]SpanHandle, 0, r.cfg.SpansPerRequest-1)
	for i := 0; i < r.cfg.SpansPerRequest-1; i++ {
		args := SpanArgs{
			Name:    fmt.Sprintf("span-%d", i),
			Kind:    KindFunction,
			Start:   tr.Start,
			Created: tr.Start,
		}
		if i == 0 {
			args.Scores, args.Tags = r.sampleScores()
		}
		args.Metadata = map[string]any{
			"app":         r.rng.Choice(apps),
			"region":      r.rng.Choice(regions),
			"user_tenure": r.rng.Choice(userTenures),
		}

		span, err := r.sink.StartSpan(parent, args)
		if err != nil {
			return stats, err
		}
		// the input is visible before anything downstream has happened
		if err := span.Log(Event{Input: input}); err != nil {
			return stats, err
		}
		spans = append(spans, span)
		parent = span
	}

	llm, err := r.sink.StartSpan(parent, SpanArgs{
		Name:    llmSpanName,
		Kind:    KindLLM,
		Start:   tr.Start,
		Created: tr.Start,
	})
	if err != nil {
		return stats, err
	}
	promptTokens := r.prompt.Tokens + inputTokens
	totalTokens := promptTokens + outputTokens
	err = llm.Log(Event{
		Input: []Message{
			{Role: "system", Content: r.prompt.Text},
			{Role: "user", Content: input},
		},
		Output: output,
		Metadata: map[string]any{
			"model":       r.cfg.Model,
			"temperature": temperature,
		},
		Metrics: map[string]float64{
			"prompt_tokens":       float64(promptTokens),
			"completion_tokens":   float64(outputTokens),
			"total_tokens":        float64(totalTokens),
			"tokens":              float64(totalTokens),
			"time_to_first_token": tr.Duration.Seconds() / float64(r.rng.IntRange(2, 10)),
		},
	})
	if err != nil {
		return stats, err
	}
	if err := llm.End(tr.End()); err != nil {
		return stats, err
	}

	for i := len(spans) - 1; i >= 0; i-- {
		if err := spans[i].Log(Event{Output: output}); err != nil {
			return stats, err
		}
		if err := spans[i].End(tr.End()); err != nil {
			return stats, err
		}
	}

	stats.Spans = len(spans) + 1
	stats.PromptTokens = promptTokens
	stats.CompletionTokens = outputTokens
	return stats, nil
}

// sampleScores returns the scores and tags of a trace's root span. Each
// sampled score comes with its tag, independently with probability
// SamplingRate; Quality is always present.
func (r *RequestSynthesizer) sampleScores() (map[string]float64, []string) {
	scores := make(map[string]float64, 4)
	var tags []string
	if r.rng.Chance(r.cfg.SamplingRate) {
		scores["Factuality"] = r.rng.Float64()
		tags = append(tags, "Sampled")
	}
	if r.rng.Chance(r.cfg.SamplingRate) {
		tags = append(tags, "Toxic")
		scores["Toxicity"] = r.rng.Float(0, 0.2)
	}
	if r.rng.Chance(r.cfg.SamplingRate) {
		tags = append(tags, "Triage")
		scores["Preference"] = r.rng.Float64()
	}
	scores["Quality"] = r.rng.Float64()
	return scores, tags
}
