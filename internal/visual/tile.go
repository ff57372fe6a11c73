// Package visual renders training artifacts to PNG: tiled reconstructions and
// annotated heatmaps of attention alignments and spectrograms.
package visual

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/born-ml/recipes/internal/tensor"
)

// TileImages lays a [B, C, H, W] batch with values in [0, 1] out on a near-square
// grid, one pixel of white between tiles. C must be 1 (gray) or 3 (RGB). Values are
// clamped.
func TileImages(batch *tensor.Tensor) (*image.RGBA, error) {
	shape := batch.Shape()
	if len(shape) != 4 {
		return nil, errors.Errorf("tile: want [B, C, H, W], got %v", shape)
	}
	b, c, h, w := shape[0], shape[1], shape[2], shape[3]
	if c != 1 && c != 3 {
		return nil, errors.Errorf("tile: %d channels, want 1 or 3", c)
	}
	if b == 0 {
		return nil, errors.New("tile: empty batch")
	}

	cols := int(math.Ceil(math.Sqrt(float64(b))))
	rows := (b + cols - 1) / cols
	img := image.NewRGBA(image.Rect(0, 0, cols*(w+1)-1, rows*(h+1)-1))
	fill(img, color.RGBA{255, 255, 255, 255})

	data := batch.Data()
	plane := h * w
	for i := 0; i < b; i++ {
		ox, oy := (i%cols)*(w+1), (i/cols)*(h+1)
		base := i * c * plane
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p := y*w + x
				r := toByte(data[base+p])
				g, bl := r, r
				if c == 3 {
					g = toByte(data[base+plane+p])
					bl = toByte(data[base+2*plane+p])
				}
				img.SetRGBA(ox+x, oy+y, color.RGBA{r, g, bl, 255})
			}
		}
	}
	return img, nil
}

// SavePNG encodes img to path, creating parent directories.
func SavePNG(path string, img image.Image) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create image directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create png")
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()
	return errors.Wrapf(png.Encode(f, img), "encode %s", path)
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0 || v != v:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}

func fill(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}
