package data

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

const (
	cifarSide   = 32
	cifarPixels = 3 * cifarSide * cifarSide
	cifarRecord = 1 + cifarPixels
)

// LoadCIFAR10 loads the binary CIFAR-10 release from dir.
//
// Train reads data_batch_1.bin through data_batch_5.bin, test reads test_batch.bin.
// Each record is one label byte followed by 3x32x32 channel-major pixel bytes.
func LoadCIFAR10(dir string, train bool, limit int) (*ImageSet, error) {
	files := []string{"test_batch.bin"}
	if train {
		files = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}
	}

	set := &ImageSet{Shape: tensor.Shape{3, cifarSide, cifarSide}, ByteRange: true}
	set.Labels = []float32{}
	for _, name := range files {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrap(err, "read cifar-10 batch")
		}
		part, err := ReadCIFAR10(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", name)
		}
		set.Pixels = append(set.Pixels, part.Pixels...)
		set.Labels = append(set.Labels, part.Labels...)
		if limit > 0 && set.Len() >= limit {
			break
		}
	}
	return set.Head(limit), nil
}

// ReadCIFAR10 parses CIFAR-10 binary records.
func ReadCIFAR10(raw []byte) (*ImageSet, error) {
	if len(raw)%cifarRecord != 0 {
		return nil, errors.Errorf("%d bytes is not a whole number of %d-byte records", len(raw), cifarRecord)
	}
	n := len(raw) / cifarRecord
	set := &ImageSet{
		Shape:     tensor.Shape{3, cifarSide, cifarSide},
		Pixels:    make([]float32, 0, n*cifarPixels),
		Labels:    make([]float32, 0, n),
		ByteRange: true,
	}
	for i := 0; i < n; i++ {
		record := raw[i*cifarRecord : (i+1)*cifarRecord]
		set.Labels = append(set.Labels, float32(record[0]))
		for _, b := range record[1:] {
			set.Pixels = append(set.Pixels, float32(b))
		}
	}
	return set, nil
}
