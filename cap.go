package drm

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/drm/v2/ioctl"
)

type (
	capability struct {
		cap uint64
		val uint64
	}
)

const (
	CapDumbBuffer = iota + 1
	CapVBlankHighCRTC
	CapDumbPreferredDepth
	CapDumbPreferShadow
	CapPrime
	CapTimestampMonotonic
	CapAsyncPageFlip
	CapCursorWidth
	CapCursorHeight

	CapAddFB2Modifiers   = 0x10
	CapPageFlipTarget    = 0x11
	CapCRTCInVBlankEvent = 0x12
	CapSyncObj           = 0x13
	CapSyncObjTimeline   = 0x14
)

// Client capabilities, enabled with SetClientCap.
const (
	ClientCapStereo3D = iota + 1
	ClientCapUniversalPlanes
	ClientCapAtomic
)

func GetCap(file *os.File, c uint64) (uint64, error) {
	cap := &capability{}
	cap.cap = c
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLGetCap), uintptr(unsafe.Pointer(cap)))
	if err != nil {
		return 0, err
	}
	return cap.val, nil
}

func HasDumbBuffer(file *os.File) bool {
	val, err := GetCap(file, CapDumbBuffer)
	if err != nil {
		return false
	}
	return val != 0
}

// SetClientCap tells the kernel this client understands an extended
// interface. Atomic implies universal planes on recent kernels, but both
// are set explicitly.
func SetClientCap(file *os.File, c, val uint64) error {
	cap := &capability{cap: c, val: val}
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLSetClientCap), uintptr(unsafe.Pointer(cap)))
}

// Negotiate enables the client capabilities needed for atomic mode
// setting and checks the device supports dumb buffers and reports the
// CRTC id in vblank events. Any failure means the device cannot be driven.
func Negotiate(file *os.File) error {
	if err := SetClientCap(file, ClientCapUniversalPlanes, 1); err != nil {
		return fmt.Errorf("failed to set universal planes cap: %w", err)
	}
	if err := SetClientCap(file, ClientCapAtomic, 1); err != nil {
		return fmt.Errorf("failed to set atomic cap: %w", err)
	}
	if !HasDumbBuffer(file) {
		return fmt.Errorf("drm device %q does not support dumb buffers", file.Name())
	}
	val, err := GetCap(file, CapCRTCInVBlankEvent)
	if err != nil || val == 0 {
		return fmt.Errorf("drm device %q does not report crtc in vblank events", file.Name())
	}
	return nil
}
