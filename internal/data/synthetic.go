package data

import (
	"math"
	"math/rand"

	"github.com/born-ml/recipes/internal/tensor"
)

// SyntheticImages generates n smooth random images of the given [C, H, W] shape with
// byte-range pixels. The same seed always yields the same set.
//
// Each image is a sum of a few random low-frequency waves, so it has structure an
// autoencoder can learn, unlike white noise.
func SyntheticImages(n int, shape tensor.Shape, seed int64) *ImageSet {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible data, not security.
	c, h, w := shape[0], shape[1], shape[2]
	set := &ImageSet{
		Shape:     shape.Clone(),
		Pixels:    make([]float32, 0, n*shape.NumElements()),
		Labels:    make([]float32, n),
		ByteRange: true,
	}
	for i := 0; i < n; i++ {
		class := rng.Intn(10)
		set.Labels[i] = float32(class)
		fx := 1 + rng.Float64()*2
		fy := 1 + rng.Float64()*2
		phase := rng.Float64() * 2 * math.Pi
		for ch := 0; ch < c; ch++ {
			shift := float64(ch) * math.Pi / 3
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					u := float64(x) / float64(w)
					v := float64(y) / float64(h)
					val := math.Sin(2*math.Pi*fx*u+phase+shift) * math.Cos(2*math.Pi*fy*v+float64(class)/3)
					set.Pixels = append(set.Pixels, float32(math.Round(127.5+127.5*val)))
				}
			}
		}
	}
	return set
}
