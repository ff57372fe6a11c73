package data

import (
	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

// ImageOptions selects an image dataset.
type ImageOptions struct {
	// Name is one of "mnist", "cifar10", "imagenet" (SafeTensors shards) or "synthetic".
	Name string
	// Dir holds the dataset files. For "imagenet" it is the shard root of the split.
	Dir string
	// Train selects the training split.
	Train bool
	// Limit keeps the first Limit images when > 0. For "synthetic" it is the set size.
	Limit int
	// Shape is the [C, H, W] image shape of "synthetic" sets.
	Shape tensor.Shape
	// Seed drives "synthetic" generation. Validation sets use Seed+1.
	Seed int64
}

// OpenImages loads the dataset described by opts.
func OpenImages(opts ImageOptions) (*ImageSet, error) {
	switch opts.Name {
	case "mnist":
		return LoadMNIST(opts.Dir, opts.Train, opts.Limit)
	case "cifar10":
		return LoadCIFAR10(opts.Dir, opts.Train, opts.Limit)
	case "imagenet":
		return LoadImageShards(opts.Dir, opts.Limit)
	case "synthetic":
		n := opts.Limit
		if n <= 0 {
			n = 256
		}
		shape := opts.Shape
		if len(shape) != 3 {
			shape = tensor.Shape{1, 28, 28}
		}
		seed := opts.Seed
		if !opts.Train {
			seed++
		}
		return SyntheticImages(n, shape, seed), nil
	default:
		return nil, errors.Errorf("unknown image dataset %q", opts.Name)
	}
}
