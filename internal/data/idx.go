package data

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// LoadMNIST loads MNIST from the official IDX files in dir.
//
// Expected files in dir (optionally gzipped with a .gz suffix):
//   - train-images-idx3-ubyte, train-labels-idx1-ubyte (train)
//   - t10k-images-idx3-ubyte, t10k-labels-idx1-ubyte (test)
//
// Pixels keep their 0..255 values; limit > 0 keeps only the first limit images.
func LoadMNIST(dir string, train bool, limit int) (*ImageSet, error) {
	prefix := "t10k"
	if train {
		prefix = "train"
	}

	var set *ImageSet
	err := withIDXFile(filepath.Join(dir, prefix+"-images-idx3-ubyte"), func(r io.Reader) error {
		var err error
		set, err = ReadIDXImages(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = withIDXFile(filepath.Join(dir, prefix+"-labels-idx1-ubyte"), func(r io.Reader) error {
		labels, err := ReadIDXLabels(r)
		if err != nil {
			return err
		}
		if len(labels) != set.Len() {
			return errors.Errorf("%d labels for %d images", len(labels), set.Len())
		}
		set.Labels = labels
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set.Head(limit), nil
}

// withIDXFile opens path, or path+".gz" when only the compressed file exists.
func withIDXFile(path string, fn func(io.Reader) error) error {
	file, err := os.Open(path)
	gz := false
	if os.IsNotExist(err) {
		file, err = os.Open(path + ".gz")
		gz = true
	}
	if err != nil {
		return errors.Wrap(err, "open idx file")
	}
	defer file.Close()

	var r io.Reader = file
	if gz {
		zr, err := gzip.NewReader(file)
		if err != nil {
			return errors.Wrapf(err, "gunzip %s.gz", path)
		}
		defer zr.Close()
		r = zr
	}
	return errors.Wrapf(fn(r), "read %s", filepath.Base(path))
}

// ReadIDXImages reads an image file in IDX format.
//
// IDX file format for images:
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes (28)
//	number of cols: 4 bytes (28)
//	pixel data: unsigned bytes (0-255)
func ReadIDXImages(r io.Reader) (*ImageSet, error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}
	if header[0] != idxImagesMagic {
		return nil, errors.Errorf("invalid magic number: got %d, want %d", header[0], idxImagesMagic)
	}

	numImages, numRows, numCols := int(header[1]), int(header[2]), int(header[3])
	raw := make([]byte, numImages*numRows*numCols)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "failed to read %d images", numImages)
	}

	pixels := make([]float32, len(raw))
	for i, b := range raw {
		pixels[i] = float32(b)
	}
	return &ImageSet{
		Shape:     tensor.Shape{1, numRows, numCols},
		Pixels:    pixels,
		ByteRange: true,
	}, nil
}

// ReadIDXLabels reads a label file in IDX format.
//
// IDX file format for labels:
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes (0-9)
func ReadIDXLabels(r io.Reader) ([]float32, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}
	if header[0] != idxLabelsMagic {
		return nil, errors.Errorf("invalid magic number: got %d, want %d", header[0], idxLabelsMagic)
	}

	raw := make([]byte, header[1])
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "failed to read labels")
	}
	labels := make([]float32, len(raw))
	for i, b := range raw {
		labels[i] = float32(b)
	}
	return labels, nil
}
