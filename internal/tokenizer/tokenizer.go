package tokenizer

import (
	"strings"

	"github.com/pkg/errors"
)

// Tokenizer is the core interface for text tokenization.
//
// All tokenizer implementations (characters, tiktoken) must implement this interface.
type Tokenizer interface {
	// Encode converts text to token IDs.
	Encode(text string) ([]int32, error)

	// Decode converts token IDs back to text.
	Decode(tokens []int32) (string, error)

	// VocabSize returns the number of distinct IDs Encode can produce.
	// An embedding table with VocabSize rows can index every token.
	VocabSize() int

	// BosToken returns the beginning-of-sequence token ID.
	// Returns -1 if not applicable.
	BosToken() int32

	// EosToken returns the end-of-sequence token ID.
	// Returns -1 if not applicable.
	EosToken() int32

	// PadToken returns the padding token ID.
	// Returns -1 if not applicable.
	PadToken() int32

	// UnkToken returns the unknown token ID.
	// Returns -1 if not applicable.
	UnkToken() int32

	// IsSpecialToken checks if a token ID is a special token.
	IsSpecialToken(token int32) bool
}

// tiktokenPrefix selects a tiktoken encoding in New, e.g. "tiktoken:cl100k_base".
const tiktokenPrefix = "tiktoken:"

// New returns the tokenizer registered under name.
//
// Accepted names: "" or "chars" for the character tokenizer, and
// "tiktoken:<encoding>" for a tiktoken encoding.
func New(name string) (Tokenizer, error) {
	switch {
	case name == "" || name == "chars":
		return NewChars(), nil
	case strings.HasPrefix(name, tiktokenPrefix):
		return NewTikToken(strings.TrimPrefix(name, tiktokenPrefix))
	default:
		return nil, errors.Errorf("unknown tokenizer %q", name)
	}
}
