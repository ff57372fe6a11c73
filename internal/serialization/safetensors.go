package serialization

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

const (
	dtypeF32    = "F32"
	metadataKey = "__metadata__"
)

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Encode writes tensors and metadata to w in SafeTensors layout.
//
// Tensors are written in alphabetical order by name. A checksum of the data section
// is added to the metadata under "sha256".
func Encode(w io.Writer, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var data bytes.Buffer
	header := make(map[string]any, len(names)+1)
	for _, name := range names {
		t := tensors[name]
		begin := int64(data.Len())
		buf := make([]byte, 4)
		for _, v := range t.Data() {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			data.Write(buf)
		}

		shape := make([]int64, len(t.Shape()))
		for i, d := range t.Shape() {
			shape[i] = int64(d)
		}
		header[name] = SafeTensorHeader{
			DType:       dtypeF32,
			Shape:       shape,
			DataOffsets: [2]int64{begin, int64(data.Len())},
		}
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[metadataChecksumKey] = checksumHex(data.Bytes())
	header[metadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "write header")
	}
	if _, err := w.Write(data.Bytes()); err != nil {
		return errors.Wrap(err, "write tensor data")
	}
	return nil
}

// WriteSafeTensors writes tensors to a SafeTensors file.
//
// The file is first written next to path and then renamed over it, so readers never
// observe a partially written file.
func WriteSafeTensors(path string, tensors map[string]*tensor.Tensor, metadata map[string]string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = Encode(bw, tensors, metadata); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = bw.Flush(); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "flush %s", path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename into %s", path)
	}
	return nil
}

// Decode reads a SafeTensors stream produced by Encode or any other F32 writer.
func Decode(r io.Reader) (map[string]*tensor.Tensor, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, errors.Wrap(err, "read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, errors.Wrap(err, "read header")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, nil, errors.Wrapf(ErrInvalidHeader, "parse header JSON: %v", err)
	}

	var metadata map[string]string
	entries := make([]TensorEntry, 0, len(raw))
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &metadata); err != nil {
				return nil, nil, errors.Wrapf(ErrInvalidHeader, "parse metadata: %v", err)
			}
			continue
		}
		if err := ValidateTensorName(name); err != nil {
			return nil, nil, err
		}
		var h SafeTensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, nil, errors.Wrapf(ErrInvalidHeader, "parse tensor %q: %v", name, err)
		}
		shape := make([]int, len(h.Shape))
		for i, d := range h.Shape {
			shape[i] = int(d)
		}
		e := TensorEntry{Name: name, DType: h.DType, Shape: shape, Begin: h.DataOffsets[0], End: h.DataOffsets[1]}
		if err := validateEntry(e); err != nil {
			return nil, nil, err
		}
		entries = append(entries, e)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read tensor data")
	}
	if err := ValidateTensorOffsets(entries, int64(len(data))); err != nil {
		return nil, nil, err
	}
	if err := ValidateChecksum(data, metadata[metadataChecksumKey]); err != nil {
		return nil, nil, err
	}

	tensors := make(map[string]*tensor.Tensor, len(entries))
	for _, e := range entries {
		t := tensor.New(tensor.Shape(e.Shape))
		values := t.Data()
		span := data[e.Begin:e.End]
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(span[i*4:]))
		}
		tensors[e.Name] = t
	}
	if metadata != nil {
		delete(metadata, metadataChecksumKey)
	}
	return tensors, metadata, nil
}

// ReadSafeTensors reads every tensor and the user metadata of a SafeTensors file.
func ReadSafeTensors(path string) (map[string]*tensor.Tensor, map[string]string, error) {
	//nolint:gosec // G304: checkpoint and dataset paths come from configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open safetensors file")
	}
	defer f.Close()

	tensors, metadata, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decode %s", path)
	}
	return tensors, metadata, nil
}
