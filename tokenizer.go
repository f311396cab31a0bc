package main

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// A Tokenizer turns text into tokens and back. Implementations must be safe for
// concurrent use because all workers share one.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// NewTokenizer returns the named tokenizer. "tiktoken" uses the BPE encoding for
// model; "words" splits on word and punctuation boundaries and needs no
// vocabulary files.
func NewTokenizer(name, model string) (Tokenizer, error) {
	switch name {
	case "tiktoken":
		return newTiktokenizer(model)
	case "words":
		return NewWordTokenizer(), nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

var setLoader sync.Once

type tiktokenizer struct {
	enc *tiktoken.Tiktoken
}

func newTiktokenizer(model string) (*tiktokenizer, error) {
	// the offline loader embeds the BPE ranks so runs never hit the network
	setLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("no tiktoken encoding for model %s: %w", model, err)
	}
	return &tiktokenizer{enc: enc}, nil
}

func (t *tiktokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// a piece is a run of leading whitespace followed by either a word or a single
// punctuation character, so concatenating any prefix of pieces re-splits into
// the same pieces
var wordPieces = regexp.MustCompile(`\s*[A-Za-z0-9']+|\s*[^\sA-Za-z0-9']|\s+$`)

// WordTokenizer assigns ids to pieces as it sees them.
type WordTokenizer struct {
	mut   sync.RWMutex
	ids   map[string]int
	words []string
}

func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{ids: make(map[string]int)}
}

func (w *WordTokenizer) Encode(text string) []int {
	pieces := wordPieces.FindAllString(text, -1)
	tokens := make([]int, len(pieces))
	for i, p := range pieces {
		tokens[i] = w.id(p)
	}
	return tokens
}

func (w *WordTokenizer) Decode(tokens []int) string {
	w.mut.RLock()
	defer w.mut.RUnlock()
	var n int
	for _, t := range tokens {
		n += len(w.words[t])
	}
	b := make([]byte, 0, n)
	for _, t := range tokens {
		b = append(b, w.words[t]...)
	}
	return string(b)
}

func (w *WordTokenizer) id(piece string) int {
	w.mut.RLock()
	id, ok := w.ids[piece]
	w.mut.RUnlock()
	if ok {
		return id
	}
	w.mut.Lock()
	defer w.mut.Unlock()
	if id, ok := w.ids[piece]; ok {
		return id
	}
	id = len(w.words)
	w.words = append(w.words, piece)
	w.ids[piece] = id
	return id
}
