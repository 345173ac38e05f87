package paint

import (
	"image/color"
	"math/rand"

	"github.com/NeowayLabs/drm/v2/pixel"
)

// colorWalk is a colour drifting by a random step per channel each
// frame, bouncing off both ends of the channel range.
type colorWalk struct {
	rgb [3]uint8
	up  [3]bool
}

func nextColor(up *bool, cur uint8, step uint8) uint8 {
	next := cur - step
	if *up {
		next = cur + step
	}
	if (*up && next < cur) || (!*up && next > cur) {
		*up = !*up
		next = cur
	}
	return next
}

// Gradient fills every frame with one colour that slowly changes. Each
// display walks on its own.
type Gradient struct {
	// MaxStep bounds the per frame change of a channel.
	MaxStep int

	rng   *rand.Rand
	walks map[uint32]*colorWalk
}

func NewGradient(seed int64) *Gradient {
	return &Gradient{
		MaxStep: 5,
		rng:     rand.New(rand.NewSource(seed)),
		walks:   map[uint32]*colorWalk{},
	}
}

func (g *Gradient) walk(connector uint32) *colorWalk {
	w, ok := g.walks[connector]
	if !ok {
		w = &colorWalk{up: [3]bool{true, true, true}}
		for i := range w.rgb {
			w.rgb[i] = uint8(g.rng.Intn(0xff))
		}
		g.walks[connector] = w
	}
	return w
}

// Color advances the walk of connector and returns the new colour.
func (g *Gradient) Color(connector uint32) color.RGBA {
	w := g.walk(connector)
	for i := range w.rgb {
		step := uint8(0)
		if g.MaxStep > 0 {
			step = uint8(g.rng.Intn(g.MaxStep))
		}
		w.rgb[i] = nextColor(&w.up[i], w.rgb[i], step)
	}
	return color.RGBA{R: w.rgb[0], G: w.rgb[1], B: w.rgb[2], A: 0xff}
}

func (g *Gradient) Paint(connector uint32, img *pixel.XRGB8888) {
	img.Fill(g.Color(connector))
}
