package data

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

// Utterance is one transcript with its mel spectrogram.
type Utterance struct {
	ID     string
	Text   string
	Tokens []int32
	// Mel is [frames, n_mels].
	Mel *tensor.Tensor
}

// SpeechSet is an in-memory text-to-speech corpus.
type SpeechSet struct {
	NMels      int
	Utterances []Utterance
}

// Len returns the number of utterances.
func (s *SpeechSet) Len() int {
	return len(s.Utterances)
}

// Validate checks every utterance against NMels.
func (s *SpeechSet) Validate() error {
	if s.NMels <= 0 {
		return errors.Errorf("n_mels must be > 0 (got %d)", s.NMels)
	}
	for i, u := range s.Utterances {
		shape := u.Mel.Shape()
		if len(shape) != 2 || shape[1] != s.NMels {
			return errors.Errorf("utterance %d (%s): mel shape %v, want [frames, %d]", i, u.ID, shape, s.NMels)
		}
		if shape[0] == 0 {
			return errors.Errorf("utterance %d (%s): empty mel spectrogram", i, u.ID)
		}
		if len(u.Tokens) == 0 {
			return errors.Errorf("utterance %d (%s): empty token sequence", i, u.ID)
		}
	}
	return nil
}

// Split returns the set without its last n utterances and a set of those n.
func (s *SpeechSet) Split(n int) (train, valid *SpeechSet, err error) {
	if n <= 0 || n >= s.Len() {
		return nil, nil, errors.Errorf("cannot hold out %d of %d utterances", n, s.Len())
	}
	cut := s.Len() - n
	return &SpeechSet{NMels: s.NMels, Utterances: s.Utterances[:cut]},
		&SpeechSet{NMels: s.NMels, Utterances: s.Utterances[cut:]}, nil
}

// SpeechLayout fixes the padded batch geometry of the text-to-speech graph.
type SpeechLayout struct {
	// TextLen is the padded token sequence length.
	TextLen int
	// MelLen is the padded number of decoder steps.
	MelLen int
	// NMels is the number of mel channels per frame.
	NMels int
	// R is the reduction factor: frames emitted per decoder step.
	R int
}

// Validate checks that every dimension is positive.
func (l SpeechLayout) Validate() error {
	if l.TextLen <= 0 || l.MelLen <= 0 || l.NMels <= 0 || l.R <= 0 {
		return errors.Errorf("text_len, mel_len, n_mels and r must be > 0 (got %d, %d, %d, %d)", l.TextLen, l.MelLen, l.NMels, l.R)
	}
	return nil
}

// SpeechSource serves padded batches of one worker's share of a SpeechSet.
type SpeechSource struct {
	set       *SpeechSet
	layout    SpeechLayout
	batchSize int
	sampler   *sampler
}

// NewSpeechSource creates a source over set for the worker described by sh.
func NewSpeechSource(set *SpeechSet, batchSize int, layout SpeechLayout, sh Sharding) (*SpeechSource, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if set.NMels != layout.NMels {
		return nil, errors.Errorf("corpus has %d mel channels, layout expects %d", set.NMels, layout.NMels)
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0 (got %d)", batchSize)
	}
	smp, err := newSampler(set.Len(), sh)
	if err != nil {
		return nil, err
	}
	return &SpeechSource{set: set, layout: layout, batchSize: batchSize, sampler: smp}, nil
}

// Size returns the number of utterances in the whole set.
func (s *SpeechSource) Size() int {
	return s.set.Len()
}

// BatchSize returns the number of utterances per batch.
func (s *SpeechSource) BatchSize() int {
	return s.batchSize
}

// PartitionSize returns the number of utterances this worker sees per pass.
func (s *SpeechSource) PartitionSize() int {
	return s.sampler.len()
}

// Next returns {mel [B,mel_len,n_mels*r], text [B,text_len], gate [B,mel_len]}.
//
// Token IDs are truncated or padded with 0 to text_len. Mel frames are grouped r at
// a time into decoder steps, zero-padded, and truncated or padded to mel_len steps.
// The gate is 1 from the last real decoder step on and 0 before it.
func (s *SpeechSource) Next() (Batch, error) {
	l := s.layout
	step := l.NMels * l.R
	mel := tensor.New(tensor.Shape{s.batchSize, l.MelLen, step})
	txt := tensor.New(tensor.Shape{s.batchSize, l.TextLen})
	gat := tensor.New(tensor.Shape{s.batchSize, l.MelLen})

	for b, i := range s.sampler.take(s.batchSize) {
		u := s.set.Utterances[i]

		row := txt.Data()[b*l.TextLen : (b+1)*l.TextLen]
		for j := 0; j < len(u.Tokens) && j < l.TextLen; j++ {
			row[j] = float32(u.Tokens[j])
		}

		frames := u.Mel.Shape()[0]
		avail := min(frames, l.MelLen*l.R)
		copy(mel.Data()[b*l.MelLen*step:], u.Mel.Data()[:avail*l.NMels])

		steps := min((frames+l.R-1)/l.R, l.MelLen)
		gate := gat.Data()[b*l.MelLen : (b+1)*l.MelLen]
		for t := steps - 1; t < l.MelLen; t++ {
			gate[t] = 1
		}
	}
	return Batch{mel, txt, gat}, nil
}
