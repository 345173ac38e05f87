package paint

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"time"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/NeowayLabs/drm/v2/pixel"
)

const countdownText = "Starting Slide Show in"

// Countdown shows the seconds left before Next takes over, on a black
// screen. Every display counts from the first frame painted for it.
type Countdown struct {
	Next     Painter
	Duration time.Duration

	now   clock
	font  *truetype.Font
	start map[uint32]time.Time
	faces map[float64]font.Face
}

func NewCountdown(next Painter, d time.Duration) (*Countdown, error) {
	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("cannot parse font: %w", err)
	}
	return &Countdown{
		Next:     next,
		Duration: d,
		font:     f,
		start:    map[uint32]time.Time{},
		faces:    map[float64]font.Face{},
	}, nil
}

// Remaining is the time left on connector's countdown, zero once it is
// over.
func (c *Countdown) Remaining(connector uint32) time.Duration {
	start, ok := c.start[connector]
	if !ok {
		return c.Duration
	}
	return max(c.Duration-c.now.now().Sub(start), 0)
}

func (c *Countdown) Paint(connector uint32, img *pixel.XRGB8888) {
	if _, ok := c.start[connector]; !ok {
		c.start[connector] = c.now.now()
	}
	left := c.Remaining(connector)
	if left <= 0 {
		c.Next.Paint(connector, img)
		return
	}

	img.Fill(color.Black)
	h := img.Bounds().Dy()
	size := max(float64(h)/12, 8)
	c.drawCentered(img, countdownText, h/2, size)
	secs := int((left + time.Second - 1) / time.Second)
	c.drawCentered(img, strconv.Itoa(secs), h/2+int(size*3), size*2)
}

func (c *Countdown) face(size float64) font.Face {
	f, ok := c.faces[size]
	if !ok {
		f = truetype.NewFace(c.font, &truetype.Options{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		c.faces[size] = f
	}
	return f
}

// drawCentered draws s horizontally centered with its baseline at y.
func (c *Countdown) drawCentered(img *pixel.XRGB8888, s string, y int, size float64) {
	width := font.MeasureString(c.face(size), s).Ceil()
	x := img.Bounds().Min.X + (img.Bounds().Dx()-width)/2

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(c.font)
	ctx.SetFontSize(size)
	ctx.SetHinting(font.HintingFull)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)
	ctx.SetSrc(image.White)
	ctx.DrawString(s, freetype.Pt(x, img.Bounds().Min.Y+y))
}
