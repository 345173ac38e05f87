// Package paint holds the frame painters driven by kmsflip. Painters are
// called on the event loop with the back buffer of one display and keep
// any per display state keyed by connector id.
package paint

import (
	"time"

	"github.com/NeowayLabs/drm/v2/pixel"
)

type Painter interface {
	Paint(connector uint32, img *pixel.XRGB8888)
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
