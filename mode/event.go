package mode

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Event types delivered on the device file descriptor.
const (
	EventVBlank       = 0x01
	EventFlipComplete = 0x02
	EventCrtcSequence = 0x03
)

const (
	eventHeaderLen = 8
	vblankEventLen = 32

	// EventBufferLen is large enough for any batch the kernel returns
	// from a single read.
	EventBufferLen = 4096
)

// Event is a vblank or flip completion record (struct drm_event_vblank).
type Event struct {
	Type     uint32
	UserData uint64
	Sec      uint32
	Usec     uint32
	Sequence uint32
	CrtcID   uint32
}

// ParseEvents decodes every complete event in b. Event types other than
// vblank and flip completion are skipped using their length header.
func ParseEvents(b []byte) ([]Event, error) {
	var events []Event
	order := binary.NativeEndian
	for len(b) > 0 {
		if len(b) < eventHeaderLen {
			return events, fmt.Errorf("truncated event header: %d bytes left", len(b))
		}
		typ := order.Uint32(b[0:])
		length := order.Uint32(b[4:])
		if length < eventHeaderLen || int(length) > len(b) {
			return events, fmt.Errorf("invalid event length %d (%d bytes left)", length, len(b))
		}

		switch typ {
		case EventVBlank, EventFlipComplete:
			if length < vblankEventLen {
				return events, fmt.Errorf("short vblank event: %d bytes", length)
			}
			events = append(events, Event{
				Type:     typ,
				UserData: order.Uint64(b[8:]),
				Sec:      order.Uint32(b[16:]),
				Usec:     order.Uint32(b[20:]),
				Sequence: order.Uint32(b[24:]),
				CrtcID:   order.Uint32(b[28:]),
			})
		}
		b = b[length:]
	}
	return events, nil
}

// ReadEvents performs a single read on r and decodes the events in it.
// The kernel never splits an event across reads.
func ReadEvents(r io.Reader) ([]Event, error) {
	buf := make([]byte, EventBufferLen)
	n, err := r.Read(buf)
	if err != nil {
		return nil, err
	}
	return ParseEvents(buf[:n])
}
