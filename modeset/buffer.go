package modeset

import (
	"errors"
	"fmt"

	"github.com/NeowayLabs/drm/v2/mode"
)

const bitsPerPixel = 32

// createBacking allocates a width x height XRGB8888 dumb buffer,
// registers it as a framebuffer and maps it zeroed. On failure whatever
// was acquired is released in reverse order.
func createBacking(dev Device, width, height uint32) (fb *FrameBuffer, err error) {
	dumb, err := dev.CreateDumb(width, height, bitsPerPixel)
	if err != nil {
		return nil, fmt.Errorf("cannot create dumb buffer %dx%d: %w", width, height, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, dev.DestroyDumb(dumb.Handle))
		}
	}()

	if dumb.Pitch < width*bitsPerPixel/8 || dumb.Size < uint64(dumb.Pitch)*uint64(height) {
		return nil, fmt.Errorf("dumb buffer %d too small: pitch %d, size %d for %dx%d",
			dumb.Handle, dumb.Pitch, dumb.Size, width, height)
	}

	fbID, err := dev.AddFB2(width, height, mode.FormatXRGB8888, dumb.Handle, dumb.Pitch)
	if err != nil {
		return nil, fmt.Errorf("cannot create framebuffer for dumb buffer %d: %w", dumb.Handle, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, dev.RmFB(fbID))
		}
	}()

	offset, err := dev.MapDumb(dumb.Handle)
	if err != nil {
		return nil, fmt.Errorf("cannot map dumb buffer %d: %w", dumb.Handle, err)
	}
	pix, err := dev.Mmap(offset, dumb.Size)
	if err != nil {
		return nil, fmt.Errorf("cannot mmap dumb buffer %d: %w", dumb.Handle, err)
	}
	clear(pix)

	return &FrameBuffer{
		Width:  width,
		Height: height,
		Stride: dumb.Pitch,
		Size:   dumb.Size,
		Handle: dumb.Handle,
		ID:     fbID,
		Pix:    pix,
	}, nil
}

// destroyBacking unmaps the buffer, removes the framebuffer and frees the
// dumb buffer, in that order. Every step is attempted.
func destroyBacking(dev Device, fb *FrameBuffer) error {
	var errs []error
	if fb.Pix != nil {
		if err := dev.Munmap(fb.Pix); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
		fb.Pix = nil
	}
	if err := dev.RmFB(fb.ID); err != nil {
		errs = append(errs, fmt.Errorf("remove framebuffer %d: %w", fb.ID, err))
	}
	if err := dev.DestroyDumb(fb.Handle); err != nil {
		errs = append(errs, fmt.Errorf("destroy dumb buffer %d: %w", fb.Handle, err))
	}
	return errors.Join(errs...)
}
