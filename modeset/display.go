package modeset

import (
	"errors"
	"fmt"

	"github.com/NeowayLabs/drm/v2/mode"
	"github.com/NeowayLabs/drm/v2/pixel"
)

// FrameBuffer is a dumb buffer registered as a framebuffer and mapped
// into the process.
type FrameBuffer struct {
	Width  uint32
	Height uint32
	Stride uint32
	Size   uint64
	Handle uint32
	ID     uint32
	Pix    []byte
}

// Image returns a drawable view of the mapped memory.
func (fb *FrameBuffer) Image() *pixel.XRGB8888 {
	return pixel.NewXRGB8888(fb.Pix, int(fb.Width), int(fb.Height), int(fb.Stride))
}

// Display is one driven output: a connector with the CRTC and primary
// plane claimed for it, its mode and two buffers that take turns being
// scanned out.
type Display struct {
	Connector *Object
	Crtc      *Object
	Plane     *Object

	// CrtcIndex is the position of Crtc in the resource list.
	CrtcIndex int

	Mode     mode.Info
	ModeBlob uint32

	Buffers [2]*FrameBuffer

	// Front indexes the buffer committed last. The other one is the
	// back buffer and the only one ever painted.
	Front int

	FlipPending bool
	Closing     bool

	// Halted is set once a commit for the display failed. It is no
	// longer repainted or flipped.
	Halted bool
}

func (d *Display) Back() *FrameBuffer { return d.Buffers[d.Front^1] }

func (d *Display) Width() uint32 { return uint32(d.Mode.Hdisplay) }

func (d *Display) Height() uint32 { return uint32(d.Mode.Vdisplay) }

// release frees everything the display holds: the property caches, the
// buffers and then the mode blob. Parts already released or never
// acquired are skipped, so it also unwinds a partially built display.
func (d *Display) release(dev Device) error {
	if d.FlipPending {
		return ErrFlipPending
	}

	for _, obj := range []*Object{d.Connector, d.Crtc, d.Plane} {
		if obj != nil {
			obj.release()
		}
	}

	var errs []error
	for i, fb := range d.Buffers {
		if fb == nil {
			continue
		}
		if err := destroyBacking(dev, fb); err != nil {
			errs = append(errs, fmt.Errorf("buffer %d: %w", i, err))
		}
		d.Buffers[i] = nil
	}
	if d.ModeBlob != 0 {
		if err := dev.DestroyPropertyBlob(d.ModeBlob); err != nil {
			errs = append(errs, fmt.Errorf("mode blob %d: %w", d.ModeBlob, err))
		}
		d.ModeBlob = 0
	}
	return errors.Join(errs...)
}

// Registry is the ordered set of displays being driven. A CRTC belongs
// to at most one display in it.
type Registry struct {
	displays []*Display
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(d *Display) {
	r.displays = append(r.displays, d)
}

// Remove drops d and reports whether it was registered.
func (r *Registry) Remove(d *Display) bool {
	for i, other := range r.displays {
		if other == d {
			r.displays = append(r.displays[:i], r.displays[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Len() int { return len(r.displays) }

// Displays returns the displays in claim order. The slice is a copy.
func (r *Registry) Displays() []*Display {
	return append([]*Display(nil), r.displays...)
}

// ByCrtc returns the display driven by CRTC id, or nil.
func (r *Registry) ByCrtc(id uint32) *Display {
	for _, d := range r.displays {
		if d.Crtc != nil && d.Crtc.ID == id {
			return d
		}
	}
	return nil
}

// CrtcClaimed reports whether a registered display uses CRTC id.
func (r *Registry) CrtcClaimed(id uint32) bool {
	return r.ByCrtc(id) != nil
}

// PlaneClaimed reports whether a registered display uses plane id.
func (r *Registry) PlaneClaimed(id uint32) bool {
	for _, d := range r.displays {
		if d.Plane != nil && d.Plane.ID == id {
			return true
		}
	}
	return false
}
