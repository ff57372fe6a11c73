package data

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/recipes/internal/tensor"
)

func idxImages(t *testing.T, n, rows, cols int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, [4]uint32{idxImagesMagic, uint32(n), uint32(rows), uint32(cols)}))
	for i := 0; i < n*rows*cols; i++ {
		buf.WriteByte(byte(i % 256))
	}
	return buf.Bytes()
}

func idxLabels(t *testing.T, labels ...byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, [2]uint32{idxLabelsMagic, uint32(len(labels))}))
	buf.Write(labels)
	return buf.Bytes()
}

func TestReadIDX(t *testing.T) {
	set, err := ReadIDXImages(bytes.NewReader(idxImages(t, 2, 3, 4)))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 4}, set.Shape)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.ByteRange)
	assert.Equal(t, float32(23), set.Pixels[23])

	labels, err := ReadIDXLabels(bytes.NewReader(idxLabels(t, 7, 3)))
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 3}, labels)

	_, err = ReadIDXImages(bytes.NewReader(idxLabels(t, 1)))
	assert.Error(t, err, "label file is not an image file")

	truncated := idxImages(t, 2, 3, 4)
	_, err = ReadIDXImages(bytes.NewReader(truncated[:len(truncated)-1]))
	assert.Error(t, err)
}

func TestLoadMNIST(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train-images-idx3-ubyte"), idxImages(t, 3, 28, 28), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train-labels-idx1-ubyte"), idxLabels(t, 1, 2, 3), 0o644))

	set, err := LoadMNIST(dir, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []float32{1, 2, 3}, set.Labels)

	set, err = LoadMNIST(dir, true, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	_, err = LoadMNIST(dir, false, 0)
	assert.Error(t, err, "test split is missing")
}

func TestLoadMNISTGzip(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, raw []byte) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".gz"), buf.Bytes(), 0o644))
	}
	write("t10k-images-idx3-ubyte", idxImages(t, 2, 28, 28))
	write("t10k-labels-idx1-ubyte", idxLabels(t, 4, 5))

	set, err := LoadMNIST(dir, false, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []float32{4, 5}, set.Labels)
}

func TestLoadMNISTLabelCountMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train-images-idx3-ubyte"), idxImages(t, 3, 2, 2), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train-labels-idx1-ubyte"), idxLabels(t, 1), 0o644))

	_, err := LoadMNIST(dir, true, 0)
	assert.Error(t, err)
}

func cifarRecords(n int) []byte {
	raw := make([]byte, 0, n*cifarRecord)
	for i := 0; i < n; i++ {
		raw = append(raw, byte(i))
		for p := 0; p < cifarPixels; p++ {
			raw = append(raw, byte(i*10))
		}
	}
	return raw
}

func TestReadCIFAR10(t *testing.T) {
	set, err := ReadCIFAR10(cifarRecords(3))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 32, 32}, set.Shape)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []float32{0, 1, 2}, set.Labels)
	assert.Equal(t, float32(20), set.Pixels[2*cifarPixels])

	_, err = ReadCIFAR10(cifarRecords(1)[:100])
	assert.Error(t, err)
}

func TestLoadCIFAR10(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test_batch.bin"), cifarRecords(4), 0o644))

	set, err := LoadCIFAR10(dir, false, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	_, err = LoadCIFAR10(dir, true, 0)
	assert.Error(t, err)
}

func TestImageShards(t *testing.T) {
	dir := t.TempDir()
	first := &ImageSet{Shape: tensor.Shape{3, 2, 2}, Pixels: make([]float32, 2*12), Labels: []float32{0, 1}}
	second := &ImageSet{Shape: tensor.Shape{3, 2, 2}, Pixels: make([]float32, 12), Labels: []float32{2}}
	for i := range first.Pixels {
		first.Pixels[i] = -0.5
	}
	second.Pixels[0] = 0.75
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, WriteImageShard(filepath.Join(dir, "shard-000000.safetensors"), first))
	require.NoError(t, WriteImageShard(filepath.Join(dir, "nested", "shard-000001.safetensors"), second))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), nil, 0o644))

	paths, err := DiscoverShards(dir)
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	set, err := LoadImageShards(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
	assert.False(t, set.ByteRange)
	assert.ElementsMatch(t, []float32{0, 1, 2}, set.Labels)

	_, err = LoadImageShards(t.TempDir(), 0)
	assert.Error(t, err)
}

func TestImageShardsShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteImageShard(filepath.Join(dir, "shard-000000.safetensors"),
		&ImageSet{Shape: tensor.Shape{1, 2, 2}, Pixels: make([]float32, 4)}))
	require.NoError(t, WriteImageShard(filepath.Join(dir, "shard-000001.safetensors"),
		&ImageSet{Shape: tensor.Shape{1, 3, 3}, Pixels: make([]float32, 9)}))

	_, err := LoadImageShards(dir, 0)
	assert.Error(t, err)
}
