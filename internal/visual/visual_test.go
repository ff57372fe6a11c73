package visual

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/recipes/internal/tensor"
)

func TestTileImagesGray(t *testing.T) {
	batch := tensor.New(tensor.Shape{5, 1, 2, 3})
	batch.Row(0).Fill(1)
	batch.Row(1).Fill(0.5)
	batch.Row(4).Fill(-3)

	img, err := TileImages(batch)
	require.NoError(t, err)
	// 5 tiles on a 3x2 grid with one-pixel gutters.
	assert.Equal(t, image.Rect(0, 0, 11, 5), img.Bounds())
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{128, 128, 128, 255}, img.RGBAAt(4, 0))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(3, 0), "gutter")
	// Tile 4 sits in row 1, column 1 and is clamped to black.
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(4, 3))
}

func TestTileImagesRGB(t *testing.T) {
	batch := tensor.New(tensor.Shape{1, 3, 1, 1})
	copy(batch.Data(), []float32{1, 0, 0.2})

	img, err := TileImages(batch)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1, 1), img.Bounds())
	assert.Equal(t, color.RGBA{255, 0, 51, 255}, img.RGBAAt(0, 0))
}

func TestTileImagesErrors(t *testing.T) {
	_, err := TileImages(tensor.New(tensor.Shape{2, 2, 2}))
	assert.Error(t, err)
	_, err = TileImages(tensor.New(tensor.Shape{2, 2, 2, 2}))
	assert.Error(t, err, "two channels")
	_, err = TileImages(tensor.New(tensor.Shape{0, 1, 2, 2}))
	assert.Error(t, err)
}

func TestHeatmapOriginLower(t *testing.T) {
	m := tensor.MustFromSlice([]float32{0, 0, 0, 1}, tensor.Shape{2, 2})
	img, err := Heatmap(m, HeatmapOptions{Title: "Attention", XLabel: "Decoder timestep", YLabel: "Encoder timestep"})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 600, 500), img.Bounds())

	plot := image.Rect(marginLeft, marginTop, 600-colorbarGap-colorbarW-colorbarText, 500-marginBottom)
	// Matrix row 1, column 1 (the maximum) is drawn top right.
	assert.Equal(t, viridis[4], img.RGBAAt(plot.Max.X-1, plot.Min.Y))
	// Matrix row 0, column 0 is drawn bottom left.
	assert.Equal(t, viridis[0], img.RGBAAt(plot.Min.X, plot.Max.Y-1))
	// Frame around the plot.
	assert.Equal(t, black, img.RGBAAt(plot.Min.X-1, plot.Min.Y+5))
}

func TestHeatmapConstantMatrix(t *testing.T) {
	img, err := Heatmap(tensor.Full(tensor.Shape{3, 4}, 2), HeatmapOptions{Width: 300, Height: 200})
	require.NoError(t, err)
	assert.Equal(t, colormap(0.5), img.RGBAAt(marginLeft+1, marginTop+1))
}

func TestHeatmapErrors(t *testing.T) {
	_, err := Heatmap(tensor.New(tensor.Shape{4}), HeatmapOptions{})
	assert.Error(t, err)
	_, err = Heatmap(tensor.New(tensor.Shape{0, 4}), HeatmapOptions{})
	assert.Error(t, err)
	_, err = Heatmap(tensor.New(tensor.Shape{2, 2}), HeatmapOptions{Width: 50, Height: 50})
	assert.Error(t, err)
}

func TestColormap(t *testing.T) {
	assert.Equal(t, viridis[0], colormap(0))
	assert.Equal(t, viridis[0], colormap(-1))
	assert.Equal(t, viridis[2], colormap(0.5))
	assert.Equal(t, viridis[4], colormap(1))
	assert.Equal(t, viridis[4], colormap(7))
}

func TestSavePNG(t *testing.T) {
	img, err := TileImages(tensor.Full(tensor.Shape{4, 1, 3, 3}, 0.5))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "recon", "epoch_1.png")
	require.NoError(t, SavePNG(path, img))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}
