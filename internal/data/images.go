package data

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

// ImageSet is an in-memory image dataset.
type ImageSet struct {
	// Shape of one image, [C, H, W].
	Shape tensor.Shape
	// Pixels holds Len()*Shape.NumElements() values, image after image.
	Pixels []float32
	// Labels holds one class per image, or is nil.
	Labels []float32
	// ByteRange marks raw 0..255 pixel values. Pre-normalized sets leave it false.
	ByteRange bool
}

// Len returns the number of images.
func (s *ImageSet) Len() int {
	n := s.Shape.NumElements()
	if n == 0 {
		return 0
	}
	return len(s.Pixels) / n
}

// Validate checks that pixels and labels agree with the image shape.
func (s *ImageSet) Validate() error {
	if len(s.Shape) != 3 {
		return errors.Errorf("image shape must be [C, H, W], got %v", s.Shape)
	}
	if err := s.Shape.Validate(); err != nil {
		return errors.Wrap(err, "image shape")
	}
	if len(s.Pixels)%s.Shape.NumElements() != 0 {
		return errors.Errorf("%d pixel values is not a whole number of %v images", len(s.Pixels), s.Shape)
	}
	if s.Labels != nil && len(s.Labels) != s.Len() {
		return errors.Errorf("%d labels for %d images", len(s.Labels), s.Len())
	}
	return nil
}

// Head returns a view of the first n images (all of them if n <= 0 or n >= Len).
func (s *ImageSet) Head(n int) *ImageSet {
	if n <= 0 || n >= s.Len() {
		return s
	}
	out := *s
	out.Pixels = s.Pixels[:n*s.Shape.NumElements()]
	if s.Labels != nil {
		out.Labels = s.Labels[:n]
	}
	return &out
}

// Variance returns the pixel variance of the whole set, computed on values scaled
// to [0, 1] when the set is in byte range.
func (s *ImageSet) Variance() float64 {
	if len(s.Pixels) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.Pixels {
		sum += float64(v)
	}
	mean := sum / float64(len(s.Pixels))
	var sq float64
	for _, v := range s.Pixels {
		d := float64(v) - mean
		sq += d * d
	}
	variance := sq / float64(len(s.Pixels))
	if s.ByteRange {
		variance /= 255 * 255
	}
	return variance
}

// ImageSource serves batches of one worker's share of an ImageSet.
type ImageSource struct {
	set       *ImageSet
	batchSize int
	sampler   *sampler
}

// NewImageSource creates a source over set for the worker described by sh.
func NewImageSource(set *ImageSet, batchSize int, sh Sharding) (*ImageSource, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0 (got %d)", batchSize)
	}
	smp, err := newSampler(set.Len(), sh)
	if err != nil {
		return nil, err
	}
	return &ImageSource{set: set, batchSize: batchSize, sampler: smp}, nil
}

// Size returns the number of images in the whole set.
func (s *ImageSource) Size() int {
	return s.set.Len()
}

// BatchSize returns the number of images per batch.
func (s *ImageSource) BatchSize() int {
	return s.batchSize
}

// PartitionSize returns the number of images this worker sees per pass.
func (s *ImageSource) PartitionSize() int {
	return s.sampler.len()
}

// Variance returns the pixel variance of the underlying set.
func (s *ImageSource) Variance() float64 {
	return s.set.Variance()
}

// ByteRange reports whether pixels are raw 0..255 values.
func (s *ImageSource) ByteRange() bool {
	return s.set.ByteRange
}

// Next returns {images [B,C,H,W], labels [B]}. Labels are zero when the set has none.
func (s *ImageSource) Next() (Batch, error) {
	idx := s.sampler.take(s.batchSize)
	inner := s.set.Shape.NumElements()

	images := tensor.New(append(tensor.Shape{s.batchSize}, s.set.Shape...))
	labels := tensor.New(tensor.Shape{s.batchSize})
	dst, lab := images.Data(), labels.Data()
	for b, i := range idx {
		copy(dst[b*inner:(b+1)*inner], s.set.Pixels[i*inner:(i+1)*inner])
		if s.set.Labels != nil {
			lab[b] = s.set.Labels[i]
		}
	}
	return Batch{images, labels}, nil
}
