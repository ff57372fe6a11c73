// Package tacotron2 trains a text-to-speech model that predicts mel spectrogram
// frames and stop gates from character or subword ids.
//
// Training goes through one Graph per mode: fixed-size placeholders for a batch,
// the model outputs and the three losses, built once and rebound to every batch.
// The Trainer follows the recipe's per-batch hooks: TrainOnBatch, ValidOnBatch and
// OnEpochEnd, which averages the validation loss over workers and, on the leader,
// writes attention and spectrogram figures and a parameter snapshot.
package tacotron2

import (
	"github.com/pkg/errors"
)

// HParams sizes the graphs and schedules the epoch-end artifacts.
type HParams struct {
	BatchSize int
	// TextLen is the padded number of token ids per utterance.
	TextLen int
	// MelLen is the number of decoder steps; each step predicts R frames.
	MelLen int
	NMels  int
	R      int
	// VocabSize bounds token ids; it comes from the tokenizer.
	VocabSize    int
	EmbeddingDim int

	WeightDecay             float32
	LearningRateDecayEpochs []int
	LearningRateDecayFactor float32

	// EpochsPerCheckpoint sets how often OnEpochEnd writes figures and a snapshot
	// under OutputPath/output/epoch_<N>.
	EpochsPerCheckpoint int
	OutputPath          string
	// CheckpointDir is the base of the resumable epoch_<N> checkpoints.
	CheckpointDir string
	// Metadata is stored in checkpoints and snapshots, e.g. the run id.
	Metadata map[string]string
}

// FrameDim returns the size of one decoder step, NMels * R.
func (hp HParams) FrameDim() int {
	return hp.NMels * hp.R
}

// Validate checks that every size is positive.
func (hp HParams) Validate() error {
	for _, f := range []struct {
		name string
		v    int
	}{
		{"batch_size", hp.BatchSize},
		{"text_len", hp.TextLen},
		{"mel_len", hp.MelLen},
		{"n_mels", hp.NMels},
		{"r", hp.R},
		{"vocab_size", hp.VocabSize},
		{"embedding_dim", hp.EmbeddingDim},
	} {
		if f.v <= 0 {
			return errors.Errorf("tacotron2: %s must be > 0 (got %d)", f.name, f.v)
		}
	}
	if hp.WeightDecay < 0 {
		return errors.Errorf("tacotron2: weight decay must be >= 0 (got %g)", hp.WeightDecay)
	}
	return nil
}
