package tacotron2

import (
	"github.com/born-ml/recipes/internal/params"
	"github.com/born-ml/recipes/internal/tensor"
)

// Outputs are the predictions of one forward pass, or gradients with respect to
// them when passed to Backward.
type Outputs struct {
	Mel       *tensor.Tensor // [B, mel_len, n_mels*r]
	MelPost   *tensor.Tensor // [B, mel_len, n_mels*r], after the postnet
	Gate      *tensor.Tensor // [B, mel_len] stop logits
	Attention *tensor.Tensor // [B, mel_len, text_len]

	activations any
}

// Model maps token ids and teacher-forcing frames to spectrogram predictions.
type Model interface {
	// Params returns the store holding every trainable parameter.
	Params() *params.Store
	// Forward runs the model on txt [B, text_len] and the target frames mel
	// [B, mel_len, n_mels*r], which the decoder sees shifted by one step. With
	// training set the activations are kept for Backward.
	Forward(txt, mel *tensor.Tensor, training bool) (*Outputs, error)
	// Backward accumulates parameter gradients given the loss gradients with
	// respect to Mel, MelPost and Gate, then releases the activations of out.
	Backward(out, grads *Outputs) error
}
