package data

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/serialization"
	"github.com/born-ml/recipes/internal/tokenizer"
)

const melKey = "mel"

// LoadLJSpeech loads an LJSpeech-style corpus from dir.
//
// dir/metadata.csv has one "id|transcript|normalized transcript" line per utterance
// (the normalized column is optional), and dir/mels/<id>.safetensors holds the
// spectrogram as a "mel" tensor of shape [frames, n_mels]. Transcripts are encoded
// with tok; limit > 0 keeps the first limit utterances.
func LoadLJSpeech(dir string, tok tokenizer.Tokenizer, nMels, limit int) (*SpeechSet, error) {
	file, err := os.Open(filepath.Join(dir, "metadata.csv"))
	if err != nil {
		return nil, errors.Wrap(err, "open metadata")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = '|'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	set := &SpeechSet{NMels: nMels}
	for line := 1; limit <= 0 || set.Len() < limit; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "metadata line %d", line)
		}
		if len(record) < 2 {
			return nil, errors.Errorf("metadata line %d: want id|text, got %d fields", line, len(record))
		}

		id := strings.TrimSpace(record[0])
		text := record[1]
		if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
			text = record[2]
		}

		tokens, err := tok.Encode(text)
		if err != nil {
			return nil, errors.Wrapf(err, "encode transcript of %s", id)
		}
		tensors, _, err := serialization.ReadSafeTensors(filepath.Join(dir, "mels", id+".safetensors"))
		if err != nil {
			return nil, errors.Wrapf(err, "mel of %s", id)
		}
		mel, ok := tensors[melKey]
		if !ok {
			return nil, errors.Errorf("mel of %s: missing %q tensor", id, melKey)
		}
		set.Utterances = append(set.Utterances, Utterance{ID: id, Text: text, Tokens: tokens, Mel: mel})
	}
	if set.Len() == 0 {
		return nil, errors.Errorf("no utterances in %s", filepath.Join(dir, "metadata.csv"))
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
