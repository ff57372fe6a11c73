package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/recipes/internal/serialization"
	"github.com/born-ml/recipes/internal/tensor"
	"github.com/born-ml/recipes/internal/tokenizer"
)

func melOf(frames, nMels int) *tensor.Tensor {
	m := tensor.New(tensor.Shape{frames, nMels})
	for i := range m.Data() {
		m.Data()[i] = float32(i + 1)
	}
	return m
}

func TestSpeechSourcePadding(t *testing.T) {
	set := &SpeechSet{NMels: 2, Utterances: []Utterance{
		{ID: "short", Tokens: []int32{5, 6, 7, 1}, Mel: melOf(3, 2)},
		{ID: "long", Tokens: []int32{3, 4, 5, 6, 7, 1}, Mel: melOf(8, 2)},
	}}
	layout := SpeechLayout{TextLen: 5, MelLen: 3, NMels: 2, R: 2}
	src, err := NewSpeechSource(set, 2, layout, Sharding{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, src.Size())
	assert.Equal(t, 2, src.BatchSize())

	batch, err := src.Next()
	require.NoError(t, err)
	require.Len(t, batch, 3)
	mel, txt, gat := batch[0], batch[1], batch[2]
	assert.Equal(t, tensor.Shape{2, 3, 4}, mel.Shape())
	assert.Equal(t, tensor.Shape{2, 5}, txt.Shape())
	assert.Equal(t, tensor.Shape{2, 3}, gat.Shape())

	// Three frames fill one and a half decoder steps, the rest is zero.
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 0, 0, 0, 0, 0, 0}, mel.Row(0).Data())
	// Eight frames are cut to mel_len*r = 6.
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, mel.Row(1).Data())

	assert.Equal(t, []float32{5, 6, 7, 1, 0}, txt.Row(0).Data())
	assert.Equal(t, []float32{3, 4, 5, 6, 7}, txt.Row(1).Data())

	assert.Equal(t, []float32{0, 1, 1}, gat.Row(0).Data())
	assert.Equal(t, []float32{0, 0, 1}, gat.Row(1).Data())
}

func TestSpeechSourceValidation(t *testing.T) {
	layout := SpeechLayout{TextLen: 4, MelLen: 4, NMels: 2, R: 1}
	good := &SpeechSet{NMels: 2, Utterances: []Utterance{{ID: "a", Tokens: []int32{2, 1}, Mel: melOf(2, 2)}}}

	_, err := NewSpeechSource(good, 1, SpeechLayout{TextLen: 4, MelLen: 0, NMels: 2, R: 1}, Sharding{Workers: 1})
	assert.Error(t, err)

	_, err = NewSpeechSource(good, 1, SpeechLayout{TextLen: 4, MelLen: 4, NMels: 3, R: 1}, Sharding{Workers: 1})
	assert.Error(t, err, "channel count mismatch")

	wrongMel := &SpeechSet{NMels: 2, Utterances: []Utterance{{ID: "a", Tokens: []int32{2, 1}, Mel: melOf(2, 3)}}}
	_, err = NewSpeechSource(wrongMel, 1, layout, Sharding{Workers: 1})
	assert.Error(t, err)

	noTokens := &SpeechSet{NMels: 2, Utterances: []Utterance{{ID: "a", Mel: melOf(2, 2)}}}
	_, err = NewSpeechSource(noTokens, 1, layout, Sharding{Workers: 1})
	assert.Error(t, err)

	_, err = NewSpeechSource(good, 1, layout, Sharding{Rank: 0, Workers: 2})
	assert.ErrorIs(t, err, ErrEmptyPartition)
}

func TestSpeechSetSplit(t *testing.T) {
	set, err := SyntheticSpeech(10, tokenizer.NewChars(), 4, 1)
	require.NoError(t, err)

	train, valid, err := set.Split(3)
	require.NoError(t, err)
	assert.Equal(t, 7, train.Len())
	assert.Equal(t, 3, valid.Len())
	assert.Equal(t, set.Utterances[7].ID, valid.Utterances[0].ID)

	_, _, err = set.Split(10)
	assert.Error(t, err)
}

func TestSyntheticSpeech(t *testing.T) {
	tok := tokenizer.NewChars()
	a, err := SyntheticSpeech(5, tok, 8, 7)
	require.NoError(t, err)
	b, err := SyntheticSpeech(5, tok, 8, 7)
	require.NoError(t, err)
	require.NoError(t, a.Validate())

	for i, u := range a.Utterances {
		assert.Equal(t, b.Utterances[i].Text, u.Text)
		assert.Equal(t, tok.EosToken(), u.Tokens[len(u.Tokens)-1])
		assert.Equal(t, tensor.Shape{len(u.Tokens) * framesPerToken, 8}, u.Mel.Shape())
		assert.True(t, tensor.Equal(u.Mel, b.Utterances[i].Mel))
	}
}

func TestLoadLJSpeech(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "mels"), 0o755))
	metadata := "LJ001-0001|Printing, in 1 sense|Printing, in one sense\n" +
		"LJ001-0002|Dr. Who\n" +
		"LJ001-0003|third one|\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.csv"), []byte(metadata), 0o644))
	for i, id := range []string{"LJ001-0001", "LJ001-0002", "LJ001-0003"} {
		err := serialization.WriteSafeTensors(filepath.Join(dir, "mels", id+".safetensors"),
			map[string]*tensor.Tensor{"mel": melOf(4+i, 3)}, nil)
		require.NoError(t, err)
	}

	tok := tokenizer.NewChars()
	set, err := LoadLJSpeech(dir, tok, 3, 0)
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())

	assert.Equal(t, "Printing, in one sense", set.Utterances[0].Text)
	assert.Equal(t, "Dr. Who", set.Utterances[1].Text)
	assert.Equal(t, "third one", set.Utterances[2].Text)
	text, err := tok.Decode(set.Utterances[1].Tokens)
	require.NoError(t, err)
	assert.Equal(t, "doctor who", text)
	assert.Equal(t, tensor.Shape{5, 3}, set.Utterances[1].Mel.Shape())

	set, err = LoadLJSpeech(dir, tok, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	_, err = LoadLJSpeech(dir, tok, 4, 0)
	assert.Error(t, err, "mel channel mismatch")
}

func TestLoadLJSpeechMissingMel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.csv"), []byte("LJ-1|hello\n"), 0o644))

	_, err := LoadLJSpeech(dir, tokenizer.NewChars(), 3, 0)
	assert.Error(t, err)
}
