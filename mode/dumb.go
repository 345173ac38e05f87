package mode

import (
	"os"
	"unsafe"

	"github.com/NeowayLabs/drm/v2"
	"github.com/NeowayLabs/drm/v2/ioctl"
)

// FormatXRGB8888 is the DRM fourcc for 32 bit pixels laid out as
// little endian B, G, R, X bytes.
const FormatXRGB8888 = uint32('X') | uint32('R')<<8 | uint32('2')<<16 | uint32('4')<<24

type (
	sysCreateDumb struct {
		height, width uint32
		bpp           uint32
		flags         uint32

		// returned values
		handle uint32
		pitch  uint32
		size   uint64
	}

	sysMapDumb struct {
		handle uint32 // Handle for the object being mapped
		pad    uint32

		// Fake offset to use for subsequent mmap call
		// This is a fixed-size type for 32/64 compatibility.
		offset uint64
	}

	sysDestroyDumb struct {
		handle uint32
	}

	sysFBCmd2 struct {
		fbID          uint32
		width, height uint32
		pixelFormat   uint32
		flags         uint32

		handles [4]uint32
		pitches [4]uint32
		offsets [4]uint32
		pad     uint32

		modifier [4]uint64
	}

	sysRmFB struct {
		handle uint32
	}

	// Dumb is a kernel allocated, CPU mappable scan-out buffer.
	Dumb struct {
		Height, Width, BPP uint32
		Handle             uint32
		Pitch              uint32
		Size               uint64
	}
)

var (
	// DRM_IOWR(0xAF, unsigned int)
	IOCTLModeRmFB = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(uint32(0))), drm.IOCTLBase, 0xAF)

	// DRM_IOWR(0xB2, struct drm_mode_create_dumb)
	IOCTLModeCreateDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCreateDumb{})), drm.IOCTLBase, 0xB2)

	// DRM_IOWR(0xB3, struct drm_mode_map_dumb)
	IOCTLModeMapDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysMapDumb{})), drm.IOCTLBase, 0xB3)

	// DRM_IOWR(0xB4, struct drm_mode_destroy_dumb)
	IOCTLModeDestroyDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysDestroyDumb{})), drm.IOCTLBase, 0xB4)

	// DRM_IOWR(0xB8, struct drm_mode_fb_cmd2)
	IOCTLModeAddFB2 = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysFBCmd2{})), drm.IOCTLBase, 0xB8)
)

func CreateDumb(file *os.File, width, height, bpp uint32) (*Dumb, error) {
	fb := &sysCreateDumb{}
	fb.width = width
	fb.height = height
	fb.bpp = bpp
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeCreateDumb),
		uintptr(unsafe.Pointer(fb)))
	if err != nil {
		return nil, err
	}
	return &Dumb{
		Height: fb.height,
		Width:  fb.width,
		BPP:    fb.bpp,
		Handle: fb.handle,
		Pitch:  fb.pitch,
		Size:   fb.size,
	}, nil
}

// AddFB2 wraps a single plane buffer object as a framebuffer of the
// given fourcc format and returns the framebuffer id.
func AddFB2(file *os.File, width, height, format, handle, pitch uint32) (uint32, error) {
	f := &sysFBCmd2{}
	f.width = width
	f.height = height
	f.pixelFormat = format
	f.handles[0] = handle
	f.pitches[0] = pitch
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeAddFB2),
		uintptr(unsafe.Pointer(f)))
	if err != nil {
		return 0, err
	}
	return f.fbID, nil
}

func RmFB(file *os.File, bufferid uint32) error {
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeRmFB),
		uintptr(unsafe.Pointer(&sysRmFB{bufferid})))
}

// MapDumb returns the fake offset to pass to mmap for mapping the
// buffer object.
func MapDumb(file *os.File, boHandle uint32) (uint64, error) {
	mreq := &sysMapDumb{}
	mreq.handle = boHandle
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeMapDumb),
		uintptr(unsafe.Pointer(mreq)))
	if err != nil {
		return 0, err
	}
	return mreq.offset, nil
}

func DestroyDumb(file *os.File, handle uint32) error {
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeDestroyDumb),
		uintptr(unsafe.Pointer(&sysDestroyDumb{handle})))
}
