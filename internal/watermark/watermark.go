// Package watermark tiles a text mark across a raster.
//
// The tile period is four times the text's own bounding box on each axis,
// starting at the origin, so along an axis of length n with a text extent of
// m there are ceil(n / (4*m)) tiles.
package watermark

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Spacing is the tile period in multiples of the text extent.
const Spacing = 4

// Fill is the colour the mark is specified with: white at alpha 50/255.
var Fill = color.NRGBA{R: 255, G: 255, B: 255, A: 50}

// Mark describes the text overlay.
type Mark struct {
	Text string
	Face font.Face
	// Blend composites Fill at its alpha. When false the mark is painted
	// opaque white, which is how an alpha fill renders on an RGB-only raster.
	Blend bool
}

// Measure returns the pixel width and height of text's bounding box.
func Measure(face font.Face, text string) (w, h int) {
	b, _ := font.BoundString(face, text)
	return (b.Max.X - b.Min.X).Ceil(), (b.Max.Y - b.Min.Y).Ceil()
}

// TileCount is the number of tiles along an axis of the given size.
func TileCount(size, extent int) int {
	if size <= 0 || extent <= 0 {
		return 0
	}
	step := Spacing * extent
	return (size + step - 1) / step
}

// Tiles returns the top-left corner of every tile on a w x h canvas.
func Tiles(w, h, textW, textH int) []image.Point {
	cols, rows := TileCount(w, textW), TileCount(h, textH)
	if cols == 0 || rows == 0 {
		return nil
	}
	pts := make([]image.Point, 0, cols*rows)
	for y := 0; y < h; y += Spacing * textH {
		for x := 0; x < w; x += Spacing * textW {
			pts = append(pts, image.Point{X: x, Y: y})
		}
	}
	return pts
}

// Apply draws the mark onto dst in place and returns the number of tiles drawn.
// Empty or unmeasurable text draws nothing.
func (m Mark) Apply(dst *image.RGBA) int {
	if m.Text == "" || m.Face == nil {
		return 0
	}
	bounds, _ := font.BoundString(m.Face, m.Text)
	tw := (bounds.Max.X - bounds.Min.X).Ceil()
	th := (bounds.Max.Y - bounds.Min.Y).Ceil()
	if tw <= 0 || th <= 0 {
		return 0
	}

	var src color.Color = color.White
	if m.Blend {
		src = Fill
	}
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(src), Face: m.Face}

	r := dst.Bounds()
	tiles := Tiles(r.Dx(), r.Dy(), tw, th)
	for _, p := range tiles {
		// Dot is the baseline origin; shift it so the box's top-left lands on p.
		d.Dot = fixed.Point26_6{
			X: fixed.I(r.Min.X+p.X) - bounds.Min.X,
			Y: fixed.I(r.Min.Y+p.Y) - bounds.Min.Y,
		}
		d.DrawString(m.Text)
	}
	return len(tiles)
}
