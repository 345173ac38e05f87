// Package pixel provides image types backed by scan-out buffer memory.
package pixel

import (
	"image"
	"image/color"
)

// XRGB8888 is a 32 bit per pixel image stored as little endian B, G, R, X
// bytes, the layout of the DRM XR24 format. Pix is usually a mapping of
// kernel memory, and Stride the kernel chosen pitch which may be larger
// than 4*width.
type XRGB8888 struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// NewXRGB8888 wraps pix, which must hold at least stride*height bytes.
func NewXRGB8888(pix []byte, width, height, stride int) *XRGB8888 {
	return &XRGB8888{
		Pix:    pix,
		Stride: stride,
		Rect:   image.Rect(0, 0, width, height),
	}
}

func (p *XRGB8888) ColorModel() color.Model { return color.RGBAModel }

func (p *XRGB8888) Bounds() image.Rectangle { return p.Rect }

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *XRGB8888) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *XRGB8888) At(x, y int) color.Color {
	return p.RGBAAt(x, y)
}

func (p *XRGB8888) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+4 : i+4]
	return color.RGBA{R: s[2], G: s[1], B: s[0], A: 0xff}
}

func (p *XRGB8888) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	c1 := color.RGBAModel.Convert(c).(color.RGBA)
	p.SetRGBA(x, y, c1)
}

func (p *XRGB8888) SetRGBA(x, y int, c color.RGBA) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+4 : i+4]
	s[0] = c.B
	s[1] = c.G
	s[2] = c.R
	s[3] = 0xff
}

// Fill sets every visible pixel to c. Row padding past the image width
// is left untouched.
func (p *XRGB8888) Fill(c color.Color) {
	c1 := color.RGBAModel.Convert(c).(color.RGBA)
	px := [4]byte{c1.B, c1.G, c1.R, 0xff}
	w := p.Rect.Dx()
	if w <= 0 {
		return
	}
	for y := p.Rect.Min.Y; y < p.Rect.Max.Y; y++ {
		row := p.Pix[p.PixOffset(p.Rect.Min.X, y):]
		for x := 0; x < w; x++ {
			copy(row[x*4:x*4+4], px[:])
		}
	}
}

// Clear zeroes the whole backing memory, padding included.
func (p *XRGB8888) Clear() {
	for i := range p.Pix {
		p.Pix[i] = 0
	}
}

// Copy copies the overlapping area of src, aligned at the top left
// corners, row by row.
func (p *XRGB8888) Copy(src *XRGB8888) {
	w := min(p.Rect.Dx(), src.Rect.Dx()) * 4
	h := min(p.Rect.Dy(), src.Rect.Dy())
	if w <= 0 || h <= 0 {
		return
	}
	for y := 0; y < h; y++ {
		d := p.PixOffset(p.Rect.Min.X, p.Rect.Min.Y+y)
		s := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		copy(p.Pix[d:d+w], src.Pix[s:s+w])
	}
}
