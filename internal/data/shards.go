package data

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/serialization"
	"github.com/born-ml/recipes/internal/tensor"
)

const (
	shardImagesKey = "images"
	shardLabelsKey = "labels"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.safetensors$`)

// DiscoverShards returns the image shard files beneath root in name order.
func DiscoverShards(root string) ([]string, error) {
	shards := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && shardRegexp.MatchString(d.Name()) {
			shards = append(shards, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "discover shards")
	}
	sort.Strings(shards)
	return shards, nil
}

// LoadImageShards loads pre-normalized images from shard-NNNNNN.safetensors files
// under dir. Every shard holds "images" [N,C,H,W] and optionally "labels" [N].
// Values are used as stored.
func LoadImageShards(dir string, limit int) (*ImageSet, error) {
	paths, err := DiscoverShards(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no shard-*.safetensors files under %s", dir)
	}

	var set *ImageSet
	for _, path := range paths {
		tensors, _, err := serialization.ReadSafeTensors(path)
		if err != nil {
			return nil, err
		}
		part, err := shardImageSet(tensors)
		if err != nil {
			return nil, errors.Wrapf(err, "shard %s", filepath.Base(path))
		}
		if set == nil {
			set = part
		} else {
			if !set.Shape.Equal(part.Shape) {
				return nil, errors.Errorf("shard %s holds %v images, earlier shards %v", filepath.Base(path), part.Shape, set.Shape)
			}
			if (set.Labels == nil) != (part.Labels == nil) {
				return nil, errors.Errorf("shard %s: labels present in some shards only", filepath.Base(path))
			}
			set.Pixels = append(set.Pixels, part.Pixels...)
			if set.Labels != nil {
				set.Labels = append(set.Labels, part.Labels...)
			}
		}
		if limit > 0 && set.Len() >= limit {
			break
		}
	}
	return set.Head(limit), nil
}

func shardImageSet(tensors map[string]*tensor.Tensor) (*ImageSet, error) {
	images, ok := tensors[shardImagesKey]
	if !ok {
		return nil, errors.Errorf("missing %q tensor", shardImagesKey)
	}
	shape := images.Shape()
	if len(shape) != 4 {
		return nil, errors.Errorf("%q must be [N, C, H, W], got %v", shardImagesKey, shape)
	}
	set := &ImageSet{Shape: shape[1:].Clone(), Pixels: images.Data()}
	if labels, ok := tensors[shardLabelsKey]; ok {
		set.Labels = labels.Data()
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// WriteImageShard stores a set as one shard file, the format LoadImageShards reads.
func WriteImageShard(path string, set *ImageSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	images, err := tensor.FromSlice(set.Pixels, append(tensor.Shape{set.Len()}, set.Shape...))
	if err != nil {
		return err
	}
	tensors := map[string]*tensor.Tensor{shardImagesKey: images}
	if set.Labels != nil {
		labels, err := tensor.FromSlice(set.Labels, tensor.Shape{len(set.Labels)})
		if err != nil {
			return err
		}
		tensors[shardLabelsKey] = labels
	}
	return serialization.WriteSafeTensors(path, tensors, nil)
}
