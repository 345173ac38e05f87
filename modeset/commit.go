package modeset

import (
	"fmt"

	"github.com/NeowayLabs/drm/v2/mode"
)

// BuildTransition adds to req the writes that route d's connector to its
// CRTC, enable the CRTC with d's mode and put the back buffer on the
// primary plane at full size. If any property is missing req is rolled
// back to where it was and the error names the property.
func BuildTransition(d *Display, req *mode.AtomicReq) (err error) {
	cursor := req.Cursor()
	defer func() {
		if err != nil {
			req.SetCursor(cursor)
		}
	}()

	back := d.Back()
	if back == nil {
		return fmt.Errorf("crtc %d has no back buffer", d.Crtc.ID)
	}
	w, h := uint64(d.Width()), uint64(d.Height())

	writes := []struct {
		obj   *Object
		name  string
		value uint64
	}{
		{d.Connector, "CRTC_ID", uint64(d.Crtc.ID)},
		{d.Crtc, "MODE_ID", uint64(d.ModeBlob)},
		{d.Crtc, "ACTIVE", 1},
		{d.Plane, "FB_ID", uint64(back.ID)},
		{d.Plane, "CRTC_ID", uint64(d.Crtc.ID)},
		{d.Plane, "SRC_X", 0},
		{d.Plane, "SRC_Y", 0},
		// source coordinates are 16.16 fixed point
		{d.Plane, "SRC_W", w << 16},
		{d.Plane, "SRC_H", h << 16},
		{d.Plane, "CRTC_X", 0},
		{d.Plane, "CRTC_Y", 0},
		{d.Plane, "CRTC_W", w},
		{d.Plane, "CRTC_H", h},
	}
	for _, wr := range writes {
		if err = wr.obj.Set(req, wr.name, wr.value); err != nil {
			return err
		}
	}
	return nil
}
