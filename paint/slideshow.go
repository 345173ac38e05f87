package paint

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/NeowayLabs/drm/v2/pixel"
)

var ErrNoSlides = errors.New("no slides")

// LoadSlides decodes every image in dir in file name order. Files that
// are not images in a known format are skipped.
func LoadSlides(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var slides []image.Image
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, image.ErrFormat) {
				continue
			}
			return nil, err
		}
		slides = append(slides, img)
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoSlides)
	}
	return slides, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

type slideState struct {
	index  int
	shown  time.Time
	scaled *pixel.XRGB8888
}

// Slideshow shows a randomly picked slide on each display, switching to
// another one every Interval. Slides are scaled to fit the display
// keeping their aspect ratio.
type Slideshow struct {
	Interval time.Duration

	now    clock
	rng    *rand.Rand
	slides []image.Image
	state  map[uint32]*slideState
}

func NewSlideshow(slides []image.Image, interval time.Duration, seed int64) *Slideshow {
	return &Slideshow{
		Interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		slides:   slides,
		state:    map[uint32]*slideState{},
	}
}

func (s *Slideshow) pick(current int) int {
	if len(s.slides) < 2 {
		return 0
	}
	next := s.rng.Intn(len(s.slides) - 1)
	if next >= current {
		next++
	}
	return next
}

// Current returns the index of the slide shown on connector, -1 before
// the first frame.
func (s *Slideshow) Current(connector uint32) int {
	if st, ok := s.state[connector]; ok {
		return st.index
	}
	return -1
}

func (s *Slideshow) Paint(connector uint32, img *pixel.XRGB8888) {
	if len(s.slides) == 0 {
		img.Fill(image.Black)
		return
	}

	now := s.now.now()
	st, ok := s.state[connector]
	switch {
	case !ok:
		st = &slideState{index: s.rng.Intn(len(s.slides)), shown: now}
		s.state[connector] = st
	case now.Sub(st.shown) >= s.Interval:
		st.index = s.pick(st.index)
		st.shown = now
		st.scaled = nil
	}

	if st.scaled == nil || st.scaled.Rect.Size() != img.Rect.Size() {
		st.scaled = fit(s.slides[st.index], img.Rect.Dx(), img.Rect.Dy())
	}
	img.Copy(st.scaled)
}

// fit scales src into a black w x h image, centered and as large as its
// aspect ratio allows.
func fit(src image.Image, w, h int) *pixel.XRGB8888 {
	dst := pixel.NewXRGB8888(make([]byte, w*h*4), w, h, w*4)
	dst.Fill(image.Black)

	sb := src.Bounds()
	if sb.Empty() || w == 0 || h == 0 {
		return dst
	}
	dw, dh := w, sb.Dy()*w/sb.Dx()
	if dh > h {
		dw, dh = sb.Dx()*h/sb.Dy(), h
	}
	r := image.Rect(0, 0, dw, dh).Add(image.Pt((w-dw)/2, (h-dh)/2))
	draw.ApproxBiLinear.Scale(dst, r, src, sb, draw.Src, nil)
	return dst
}
