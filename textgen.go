package main

import (
	"errors"

	"github.com/brianvoe/gofakeit/v6"
)

// maxTruncations bounds the re-encode loop; encoders converge in one or two
// passes, so hitting this means the tokenizer is not prefix-stable at all.
const maxTruncations = 8

var errUnstableTokenizer = errors.New("tokenizer did not converge on a stable truncation")

// TextSynthesizer produces pseudo-text of a given token length. Each instance
// owns its fake-text source and is meant to be used by a single goroutine.
type TextSynthesizer struct {
	tok  Tokenizer
	fake *gofakeit.Faker
}

// NewTextSynthesizer seeds the fake-text source from rng, so text is
// reproducible per stream.
func NewTextSynthesizer(tok Tokenizer, rng Rng) *TextSynthesizer {
	seed := rng.Int63()
	if seed == 0 {
		// gofakeit treats 0 as "seed from crypto/rand"
		seed = 1
	}
	return &TextSynthesizer{tok: tok, fake: gofakeit.New(seed)}
}

// Generate returns text that encodes to at most ntokens tokens, together with
// its actual token count. The count can be lower than ntokens when truncation
// lands inside a multi-token sequence; use it, not ntokens, for metrics.
func (t *TextSynthesizer) Generate(ntokens int) (string, int, error) {
	if ntokens <= 0 {
		return "", 0, nil
	}
	text := t.fake.Sentence(ntokens * 2)
	tokens := t.tok.Encode(text)
	for i := 0; i < maxTruncations; i++ {
		if len(tokens) > ntokens {
			tokens = tokens[:ntokens]
		}
		text = t.tok.Decode(tokens)
		again := t.tok.Encode(text)
		if len(again) == len(tokens) {
			return text, len(again), nil
		}
		tokens = again
	}
	return "", 0, errUnstableTokenizer
}
