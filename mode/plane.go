package mode

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/drm/v2"
	"github.com/NeowayLabs/drm/v2/ioctl"
)

// Values of the plane "type" enum property.
const (
	PlaneTypeOverlay = 0
	PlaneTypePrimary = 1
	PlaneTypeCursor  = 2
)

type (
	sysGetPlaneRes struct {
		planeIDPtr  uint64
		countPlanes uint32
		pad         uint32
	}

	sysGetPlane struct {
		planeID          uint32
		crtcID           uint32
		fbID             uint32
		possibleCrtcs    uint32
		gammaSize        uint32
		countFormatTypes uint32
		formatTypePtr    uint64
	}

	Plane struct {
		ID     uint32
		CrtcID uint32 // CRTC currently bound, 0 if none
		FbID   uint32 // framebuffer currently shown, 0 if none

		// PossibleCrtcs is a bit mask of CRTC indexes (positions in
		// Resources.Crtcs) this plane can be attached to.
		PossibleCrtcs uint32
		GammaSize     uint32

		Formats []uint32
	}
)

var (
	// DRM_IOWR(0xB5, struct drm_mode_get_plane_res)
	IOCTLModeGetPlaneResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlaneRes{})), drm.IOCTLBase, 0xB5)

	// DRM_IOWR(0xB6, struct drm_mode_get_plane)
	IOCTLModeGetPlane = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlane{})), drm.IOCTLBase, 0xB6)
)

// GetPlaneResources returns the ids of every plane. Without the universal
// planes client capability only overlay planes are listed.
func GetPlaneResources(file *os.File) ([]uint32, error) {
	var planes []uint32

	res := &sysGetPlaneRes{}
	for try := 0; ; try++ {
		*res = sysGetPlaneRes{}
		err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlaneResources),
			uintptr(unsafe.Pointer(res)))
		if err != nil {
			return nil, err
		}
		if res.countPlanes == 0 {
			return nil, nil
		}

		planes = make([]uint32, res.countPlanes)
		res.planeIDPtr = uint64(uintptr(unsafe.Pointer(&planes[0])))
		err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlaneResources),
			uintptr(unsafe.Pointer(res)))
		if err != nil {
			return nil, err
		}
		if res.countPlanes > uint32(len(planes)) {
			if try < maxRetries {
				continue
			}
			return nil, fmt.Errorf("plane resources keep changing after %d tries", try+1)
		}
		return planes[:res.countPlanes], nil
	}
}

func GetPlane(file *os.File, id uint32) (*Plane, error) {
	var formats []uint32

	p := &sysGetPlane{}
	p.planeID = id
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlane),
		uintptr(unsafe.Pointer(p)))
	if err != nil {
		return nil, err
	}

	if n := p.countFormatTypes; n > 0 {
		formats = make([]uint32, n)
		p.formatTypePtr = uint64(uintptr(unsafe.Pointer(&formats[0])))
		err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetPlane),
			uintptr(unsafe.Pointer(p)))
		if err != nil {
			return nil, err
		}
		if p.countFormatTypes < n {
			formats = formats[:p.countFormatTypes]
		}
	}

	return &Plane{
		ID:            p.planeID,
		CrtcID:        p.crtcID,
		FbID:          p.fbID,
		PossibleCrtcs: p.possibleCrtcs,
		GammaSize:     p.gammaSize,
		Formats:       formats,
	}, nil
}
