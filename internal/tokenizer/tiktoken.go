package tokenizer

import (
	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// encodingCL100kBase is the encoding name for GPT-4 and GPT-3.5-turbo.
	encodingCL100kBase = "cl100k_base"
	// encodingP50kBase is the encoding name for GPT-3.
	encodingP50kBase = "p50k_base"
	// encodingR50kBase is the encoding name for older GPT-3 models.
	encodingR50kBase = "r50k_base"

	// padID is reserved for padding; BPE ranks are shifted up by one past it.
	padID int32 = 0
)

// TikToken wraps the pkoukk/tiktoken-go library for OpenAI tokenizers.
//
// Supported encodings:
//   - cl100k_base: GPT-4, GPT-3.5-turbo, text-embedding-ada-002
//   - p50k_base: GPT-3, Codex
//   - r50k_base: GPT-3, davinci-002, babbage-002
//
// Text is not cleaned: subword encodings handle case and digits themselves.
//
// IDs are the encoding's ranks plus one, so that 0 stays the padding token like in
// Chars. Rank 0 ("!" in every encoding) becomes ID 1.
type TikToken struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTikToken creates a new TikToken tokenizer with the specified encoding.
func NewTikToken(encodingName string) (*TikToken, error) {
	switch encodingName {
	case encodingCL100kBase, encodingP50kBase, encodingR50kBase:
	default:
		return nil, errors.Errorf("unsupported tiktoken encoding %q", encodingName)
	}
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tiktoken encoding %q", encodingName)
	}

	return &TikToken{
		encoding: encoding,
		name:     encodingName,
	}, nil
}

// Encode converts text to token IDs followed by the end-of-text token.
func (t *TikToken) Encode(text string) ([]int32, error) {
	tokens := t.encoding.Encode(text, nil, nil)

	result := make([]int32, len(tokens), len(tokens)+1)
	for i, tok := range tokens {
		result[i] = int32(tok) + 1 //nolint:gosec // G115: Token ID fits in int32 - vocab size < 2^31.
	}
	result = append(result, t.EosToken())

	return result, nil
}

// Decode converts token IDs back to text, skipping special tokens.
func (t *TikToken) Decode(tokens []int32) (string, error) {
	intTokens := make([]int, 0, len(tokens))
	for i, tok := range tokens {
		if tok < 0 || int(tok) >= t.VocabSize() {
			return "", errors.Errorf("token %d at position %d out of range [0, %d)", tok, i, t.VocabSize())
		}
		if t.IsSpecialToken(tok) {
			continue
		}
		intTokens = append(intTokens, int(tok-1))
	}

	return t.encoding.Decode(intTokens), nil
}

// VocabSize returns the number of embedding rows needed to index every token,
// padding and special tokens included.
func (t *TikToken) VocabSize() int {
	return t.rankCount() + 1
}

func (t *TikToken) rankCount() int {
	switch t.name {
	case encodingP50kBase:
		return 50281
	case encodingR50kBase:
		return 50257
	default:
		return 100277 // 100256 merges + special tokens up to <|endofprompt|>
	}
}

// BosToken returns the beginning-of-sequence token ID.
// tiktoken doesn't use BOS tokens, returns -1.
func (t *TikToken) BosToken() int32 {
	return -1
}

// EosToken returns the <|endoftext|> token ID.
func (t *TikToken) EosToken() int32 {
	if t.name == encodingCL100kBase {
		return 100257 + 1
	}
	return 50256 + 1
}

// PadToken returns 0, which no BPE rank maps to.
func (t *TikToken) PadToken() int32 {
	return padID
}

// UnkToken returns the unknown token ID.
// tiktoken handles unknown tokens via BPE fallback, returns -1.
func (t *TikToken) UnkToken() int32 {
	return -1
}

// IsSpecialToken checks if a token ID is a special token.
func (t *TikToken) IsSpecialToken(token int32) bool {
	if token == padID || token == t.EosToken() {
		return true
	}

	// cl100k_base special tokens: ranks 100256-100276.
	return t.name == encodingCL100kBase && token >= 100256+1 && token <= 100276+1
}

// Name returns the encoding name.
func (t *TikToken) Name() string {
	return t.name
}
