package data

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
	"github.com/born-ml/recipes/internal/tokenizer"
)

var syntheticWords = []string{
	"the", "printing", "press", "of", "a", "book", "was", "in", "only", "sense",
	"with", "which", "we", "are", "at", "present", "concerned", "differs", "from",
	"most", "if", "not", "all", "arts", "and", "crafts", "represented", "exhibition",
}

// framesPerToken is the number of mel frames synthesized for every token.
const framesPerToken = 3

// SyntheticSpeech generates n random sentences encoded with tok, each paired with a
// mel spectrogram whose frames are a deterministic function of the tokens, so that
// a model can learn the mapping.
func SyntheticSpeech(n int, tok tokenizer.Tokenizer, nMels int, seed int64) (*SpeechSet, error) {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible data, not security.
	set := &SpeechSet{NMels: nMels, Utterances: make([]Utterance, 0, n)}
	for i := 0; i < n; i++ {
		words := make([]string, 2+rng.Intn(4))
		for j := range words {
			words[j] = syntheticWords[rng.Intn(len(syntheticWords))]
		}
		text := strings.Join(words, " ") + "."
		tokens, err := tok.Encode(text)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %q", text)
		}

		frames := len(tokens) * framesPerToken
		mel := tensor.New(tensor.Shape{frames, nMels})
		data := mel.Data()
		for f := 0; f < frames; f++ {
			id := float64(tokens[f/framesPerToken])
			for m := 0; m < nMels; m++ {
				data[f*nMels+m] = float32(math.Sin(id*0.37+float64(m)*0.21) * math.Exp(-float64(f%framesPerToken)/4))
			}
		}
		set.Utterances = append(set.Utterances, Utterance{
			ID:     fmt.Sprintf("SYN-%05d", i),
			Text:   text,
			Tokens: tokens,
			Mel:    mel,
		})
	}
	return set, nil
}
