package drm

import (
	"unsafe"

	"github.com/NeowayLabs/drm/v2/ioctl"
)

const IOCTLBase = 'd'

var (
	// DRM_IOWR(0x00, struct drm_version)
	IOCTLVersion = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(version{})), IOCTLBase, 0)

	// DRM_IOWR(0x0c, struct drm_get_cap)
	IOCTLGetCap = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(capability{})), IOCTLBase, 0x0c)

	// DRM_IOW(0x0d, struct drm_set_client_cap)
	IOCTLSetClientCap = ioctl.NewCode(ioctl.Write,
		uint16(unsafe.Sizeof(capability{})), IOCTLBase, 0x0d)
)
