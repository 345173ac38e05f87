package modeset

import (
	"time"

	"github.com/NeowayLabs/drm/v2/mode"
)

// Device is the kernel mode setting interface the package drives.
// *mode.Card implements it on top of an opened DRM device.
type Device interface {
	Resources() (*mode.Resources, error)
	Connector(id uint32) (*mode.Connector, error)
	Encoder(id uint32) (*mode.Encoder, error)
	PlaneResources() ([]uint32, error)
	Plane(id uint32) (*mode.Plane, error)
	ObjectProperties(id, typ uint32) (*mode.ObjectProperties, error)
	Property(id uint32) (*mode.Property, error)

	CreatePropertyBlob(data []byte) (uint32, error)
	DestroyPropertyBlob(id uint32) error

	CreateDumb(width, height, bpp uint32) (*mode.Dumb, error)
	AddFB2(width, height, format, handle, pitch uint32) (uint32, error)
	MapDumb(handle uint32) (uint64, error)
	Mmap(offset, size uint64) ([]byte, error)
	Munmap(b []byte) error
	RmFB(id uint32) error
	DestroyDumb(handle uint32) error

	AtomicCommit(req *mode.AtomicReq, flags uint32, userData uint64) error

	// Wait blocks until events are readable or timeout elapses.
	Wait(timeout time.Duration) (bool, error)
	ReadEvents() ([]mode.Event, error)
}

var _ Device = (*mode.Card)(nil)
