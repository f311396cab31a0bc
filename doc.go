package main

// llmloadgen generates synthetic LLM application traces for load testing a
// tracing backend.
//
// Each request is one trace: spansperrequest-1 nested function spans with an
// llm span at the bottom. The root span carries scores and tags (Quality always,
// Factuality/Sampled, Toxicity/Toxic and Preference/Triage each with probability
// samplingrate); every function span carries app, region and user_tenure
// metadata. The llm span holds the chat input (a system prompt shared by the
// whole run plus the user text), the completion, and token metrics computed by
// re-encoding the generated text, so the numbers are exact for the chosen
// tokenizer.
//
// The token budget of a request is split 50% system prompt, 20% user input and
// 30% completion; user and completion targets are jittered by up to
// ±jitter/2 per request. Simulated durations are up to 2 minutes and requests
// are backdated by up to 30 days.
//
// The run is driven by a fixed pool of workers, each doing ceil(total/threads)
// requests and flushing the sink every flushinterval requests. Flushing is the
// only place a worker blocks on I/O, and workers flush independently. A single
// reporter samples the shared request counter every reportinterval and prints
// the interval and overall rates.
//
// Randomness is split into independent streams, one per worker plus one for the
// system prompt, each derived from the seed and the stream name. A given seed
// and thread count always produce the same requests.
