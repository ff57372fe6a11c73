package serialization

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Validation limits for security and resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxTensorCount   = 100_000           // Maximum number of tensors in a file
	MaxTensorNameLen = 4096              // Maximum tensor name length
)

// TensorEntry describes one tensor of a SafeTensors header.
type TensorEntry struct {
	Name  string
	DType string
	Shape []int
	Begin int64 // Offset of the first byte in the data section
	End   int64 // Offset one past the last byte
}

// ValidateTensorOffsets checks for overlapping tensor offsets and out-of-bounds access.
func ValidateTensorOffsets(entries []TensorEntry, dataSize int64) error {
	if len(entries) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(entries), MaxTensorCount),
			Err:     ErrTooManyTensors,
		}
	}

	sorted := make([]TensorEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Begin < sorted[j].Begin
	})

	for i, e := range sorted {
		if e.Begin < 0 || e.End < e.Begin {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  e.Name,
				Details: fmt.Sprintf("data_offsets=[%d, %d]", e.Begin, e.End),
				Err:     ErrOutOfBounds,
			}
		}

		if e.End > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  e.Name,
				Details: fmt.Sprintf("end %d > data_size %d", e.End, dataSize),
				Err:     ErrOutOfBounds,
			}
		}

		if i < len(sorted)-1 {
			next := sorted[i+1]
			if e.End > next.Begin {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  e.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap", e.Begin, e.End, next.Begin, next.End),
					Err:     ErrOffsetOverlap,
				}
			}
		}
	}

	return nil
}

// ValidateTensorName rejects names that could escape a directory when used as a
// file name, and names that are empty or too long.
func ValidateTensorName(name string) error {
	invalid := func(details string) error {
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: details, Err: ErrInvalidTensorName}
	}

	switch {
	case name == "":
		return invalid("empty name")
	case len(name) > MaxTensorNameLen:
		return invalid(fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen))
	case strings.Contains(name, ".."):
		return invalid("contains '..'")
	case strings.ContainsAny(name, "/\\"):
		return invalid("contains path separator (/ or \\)")
	case strings.Contains(name, "\x00"):
		return invalid("contains null byte")
	}
	return nil
}

// validateEntry checks that an entry's byte span matches its dtype and shape.
func validateEntry(e TensorEntry) error {
	if e.DType != dtypeF32 {
		return &ValidationError{Type: "dtype", Tensor: e.Name, Details: e.DType, Err: ErrUnsupportedDType}
	}
	n := int64(4)
	for _, d := range e.Shape {
		if d < 0 {
			return &ValidationError{Type: "shape", Tensor: e.Name, Details: fmt.Sprintf("negative dimension in %v", e.Shape), Err: ErrInvalidHeader}
		}
		if d > 0 && n > math.MaxInt64/int64(d) {
			return &ValidationError{Type: "shape", Tensor: e.Name, Details: fmt.Sprintf("shape %v overflows int64 bytes", e.Shape), Err: ErrInvalidHeader}
		}
		n *= int64(d)
	}
	if e.End-e.Begin != n {
		return &ValidationError{
			Type:    "size_mismatch",
			Tensor:  e.Name,
			Details: fmt.Sprintf("shape %v needs %d bytes, span is %d", e.Shape, n, e.End-e.Begin),
			Err:     ErrInvalidHeader,
		}
	}
	return nil
}
