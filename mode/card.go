package mode

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"launchpad.net/gommap"
)

// Card is an opened, capability negotiated DRM device. It exposes the
// package functions as methods so mode setting code can be written
// against an interface and tested without hardware.
type Card struct {
	file *os.File
}

func NewCard(file *os.File) *Card {
	return &Card{file: file}
}

func (c *Card) File() *os.File { return c.file }

func (c *Card) Resources() (*Resources, error) { return GetResources(c.file) }

func (c *Card) Connector(id uint32) (*Connector, error) { return GetConnector(c.file, id) }

func (c *Card) Encoder(id uint32) (*Encoder, error) { return GetEncoder(c.file, id) }

func (c *Card) PlaneResources() ([]uint32, error) { return GetPlaneResources(c.file) }

func (c *Card) Plane(id uint32) (*Plane, error) { return GetPlane(c.file, id) }

func (c *Card) ObjectProperties(id, typ uint32) (*ObjectProperties, error) {
	return GetObjectProperties(c.file, id, typ)
}

func (c *Card) Property(id uint32) (*Property, error) { return GetProperty(c.file, id) }

func (c *Card) CreatePropertyBlob(data []byte) (uint32, error) {
	return CreatePropertyBlob(c.file, data)
}

func (c *Card) DestroyPropertyBlob(id uint32) error { return DestroyPropertyBlob(c.file, id) }

func (c *Card) CreateDumb(width, height, bpp uint32) (*Dumb, error) {
	return CreateDumb(c.file, width, height, bpp)
}

func (c *Card) AddFB2(width, height, format, handle, pitch uint32) (uint32, error) {
	return AddFB2(c.file, width, height, format, handle, pitch)
}

func (c *Card) RmFB(id uint32) error { return RmFB(c.file, id) }

func (c *Card) MapDumb(handle uint32) (uint64, error) { return MapDumb(c.file, handle) }

func (c *Card) DestroyDumb(handle uint32) error { return DestroyDumb(c.file, handle) }

// Mmap maps size bytes of a dumb buffer at the fake offset returned by
// MapDumb, shared and writable.
func (c *Card) Mmap(offset, size uint64) ([]byte, error) {
	mmap, err := gommap.MapAt(0, c.file.Fd(), int64(offset), int64(size),
		gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes at offset 0x%x: %w", size, offset, err)
	}
	return mmap, nil
}

func (c *Card) Munmap(b []byte) error {
	return gommap.MMap(b).UnsafeUnmap()
}

func (c *Card) AtomicCommit(req *AtomicReq, flags uint32, userData uint64) error {
	return AtomicCommit(c.file, req, flags, userData)
}

// Wait blocks until events can be read from the device or timeout
// elapses. It reports false on timeout and when interrupted by a signal.
func (c *Card) Wait(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(c.file.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return false, fmt.Errorf("poll: device %s hung up (revents 0x%x)", c.file.Name(), fds[0].Revents)
	}
	return fds[0].Revents&unix.POLLIN != 0, nil
}

func (c *Card) ReadEvents() ([]Event, error) { return ReadEvents(c.file) }
