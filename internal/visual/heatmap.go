package visual

import (
	"image"
	"image/color"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/born-ml/recipes/internal/tensor"
)

// HeatmapOptions annotates a heatmap figure.
type HeatmapOptions struct {
	Title  string
	XLabel string
	YLabel string
	// Width and Height of the whole figure in pixels. Zero picks 600x500.
	Width  int
	Height int
}

const (
	marginLeft   = 28
	marginTop    = 24
	marginBottom = 26
	colorbarGap  = 12
	colorbarW    = 16
	colorbarText = 56
)

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}

	// viridis anchors at 0, 1/4, 1/2, 3/4 and 1.
	viridis = [...]color.RGBA{
		{68, 1, 84, 255},
		{59, 82, 139, 255},
		{33, 145, 140, 255},
		{94, 201, 98, 255},
		{253, 231, 37, 255},
	}
)

// Heatmap renders a [rows, cols] matrix as a colormapped image stretched over the
// plot area. Row 0 is drawn at the bottom (origin lower) and column 0 at the left.
// A colorbar labelled with the value range is drawn on the right.
func Heatmap(m *tensor.Tensor, opts HeatmapOptions) (*image.RGBA, error) {
	shape := m.Shape()
	if len(shape) != 2 || shape[0] == 0 || shape[1] == 0 {
		return nil, errors.Errorf("heatmap: want a non-empty [rows, cols] matrix, got %v", shape)
	}
	if opts.Width == 0 {
		opts.Width = 600
	}
	if opts.Height == 0 {
		opts.Height = 500
	}

	plot := image.Rect(
		marginLeft,
		marginTop,
		opts.Width-colorbarGap-colorbarW-colorbarText,
		opts.Height-marginBottom,
	)
	if plot.Dx() < 8 || plot.Dy() < 8 {
		return nil, errors.Errorf("heatmap: figure %dx%d too small", opts.Width, opts.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	fill(img, white)

	rows, cols := shape[0], shape[1]
	lo, hi := m.Min(), m.Max()
	data := m.Data()
	for py := plot.Min.Y; py < plot.Max.Y; py++ {
		// Flip: the last pixel row of the plot shows matrix row 0.
		r := (plot.Max.Y - 1 - py) * rows / plot.Dy()
		for px := plot.Min.X; px < plot.Max.X; px++ {
			c := (px - plot.Min.X) * cols / plot.Dx()
			img.SetRGBA(px, py, colormap(normalize(data[r*cols+c], lo, hi)))
		}
	}
	frame(img, plot)

	bar := image.Rect(plot.Max.X+colorbarGap, plot.Min.Y, plot.Max.X+colorbarGap+colorbarW, plot.Max.Y)
	for py := bar.Min.Y; py < bar.Max.Y; py++ {
		v := float32(bar.Max.Y-1-py) / float32(max(bar.Dy()-1, 1))
		for px := bar.Min.X; px < bar.Max.X; px++ {
			img.SetRGBA(px, py, colormap(v))
		}
	}
	frame(img, bar)

	face := basicfont.Face7x13
	ascent := face.Metrics().Ascent.Ceil()
	drawText(img, formatValue(hi), bar.Max.X+4, bar.Min.Y+ascent)
	drawText(img, formatValue(lo), bar.Max.X+4, bar.Max.Y)

	if opts.Title != "" {
		x := plot.Min.X + (plot.Dx()-textWidth(opts.Title))/2
		drawText(img, opts.Title, x, marginTop-8)
	}
	if opts.XLabel != "" {
		x := plot.Min.X + (plot.Dx()-textWidth(opts.XLabel))/2
		drawText(img, opts.XLabel, x, opts.Height-8)
	}
	if opts.YLabel != "" {
		drawVerticalText(img, opts.YLabel, 6, plot.Min.Y+(plot.Dy()+textWidth(opts.YLabel))/2)
	}
	return img, nil
}

func normalize(v, lo, hi float32) float32 {
	if hi <= lo {
		return 0.5
	}
	return (v - lo) / (hi - lo)
}

// colormap maps t in [0, 1] to viridis by linear interpolation between anchors.
func colormap(t float32) color.RGBA {
	if t != t || t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	pos := t * float32(len(viridis)-1)
	i := int(pos)
	if i >= len(viridis)-1 {
		return viridis[len(viridis)-1]
	}
	f := pos - float32(i)
	a, b := viridis[i], viridis[i+1]
	lerp := func(x, y uint8) uint8 {
		return uint8(float32(x) + (float32(y)-float32(x))*f + 0.5)
	}
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}

func frame(img *image.RGBA, r image.Rectangle) {
	for x := r.Min.X - 1; x <= r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y-1, black)
		img.SetRGBA(x, r.Max.Y, black)
	}
	for y := r.Min.Y - 1; y <= r.Max.Y; y++ {
		img.SetRGBA(r.Min.X-1, y, black)
		img.SetRGBA(r.Max.X, y, black)
	}
}

func formatValue(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', 3, 32)
}

func textWidth(s string) int {
	d := font.Drawer{Face: basicfont.Face7x13}
	return d.MeasureString(s).Ceil()
}

// drawText draws s with its baseline starting at (x, y).
func drawText(dst *image.RGBA, s string, x, y int) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawVerticalText draws s rotated 90 degrees counter-clockwise, reading bottom to
// top, with the top-left of the rotated text box at (x, y-width).
func drawVerticalText(dst *image.RGBA, s string, x, y int) {
	face := basicfont.Face7x13
	w := textWidth(s)
	h := face.Metrics().Height.Ceil()
	tmp := image.NewRGBA(image.Rect(0, 0, w, h))
	fill(tmp, white)
	drawText(tmp, s, 0, face.Metrics().Ascent.Ceil())

	// (tx, ty) in the horizontal text lands at (x+ty, y-tx).
	for ty := 0; ty < h; ty++ {
		for tx := 0; tx < w; tx++ {
			c := tmp.RGBAAt(tx, ty)
			if c == white {
				continue
			}
			p := image.Pt(x+ty, y-tx)
			if p.In(dst.Bounds()) {
				dst.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}
