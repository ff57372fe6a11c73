package tokenizer

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	padSymbol = '_'
	eosSymbol = '~'

	// characters accepted after cleaning. Anything else is dropped by Encode.
	characters = " !'(),-.:;?abcdefghijklmnopqrstuvwxyz"
)

// Chars maps cleaned English text to one ID per character.
//
// ID 0 is the pad symbol and ID 1 the end-of-sequence symbol, so zero-padded
// batches never collide with real characters.
type Chars struct {
	symbols []rune
	ids     map[rune]int32
}

// NewChars creates the character tokenizer.
func NewChars() *Chars {
	symbols := append([]rune{padSymbol, eosSymbol}, []rune(characters)...)
	ids := make(map[rune]int32, len(symbols))
	for i, s := range symbols {
		ids[s] = int32(i) //nolint:gosec // G115: symbol table is tiny.
	}
	return &Chars{symbols: symbols, ids: ids}
}

// Encode cleans text and converts it to symbol IDs followed by the
// end-of-sequence ID. Characters outside the symbol set are dropped.
func (c *Chars) Encode(text string) ([]int32, error) {
	cleaned := CleanEnglish(text)
	out := make([]int32, 0, len(cleaned)+1)
	for _, r := range cleaned {
		if r == padSymbol || r == eosSymbol {
			continue
		}
		if id, ok := c.ids[r]; ok {
			out = append(out, id)
		}
	}
	return append(out, c.EosToken()), nil
}

// Decode converts IDs back to text. Pad and end-of-sequence IDs are omitted.
func (c *Chars) Decode(tokens []int32) (string, error) {
	var sb strings.Builder
	for i, tok := range tokens {
		if tok < 0 || int(tok) >= len(c.symbols) {
			return "", errors.Errorf("token %d at position %d out of range [0, %d)", tok, i, len(c.symbols))
		}
		if c.IsSpecialToken(tok) {
			continue
		}
		sb.WriteRune(c.symbols[tok])
	}
	return sb.String(), nil
}

// VocabSize returns the number of symbols.
func (c *Chars) VocabSize() int {
	return len(c.symbols)
}

// BosToken returns -1: sequences have no start marker.
func (c *Chars) BosToken() int32 {
	return -1
}

// EosToken returns the ID of "~".
func (c *Chars) EosToken() int32 {
	return c.ids[eosSymbol]
}

// PadToken returns the ID of "_", always 0.
func (c *Chars) PadToken() int32 {
	return c.ids[padSymbol]
}

// UnkToken returns -1: unknown characters are dropped.
func (c *Chars) UnkToken() int32 {
	return -1
}

// IsSpecialToken reports whether token is the pad or end-of-sequence ID.
func (c *Chars) IsSpecialToken(token int32) bool {
	return token == c.PadToken() || token == c.EosToken()
}
