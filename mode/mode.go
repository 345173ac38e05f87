// Package mode wraps the KMS (kernel mode setting) ioctls of a DRM device:
// resources, connectors, encoders, planes, object properties, dumb
// buffers, framebuffers, atomic commits and the event stream.
package mode

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/drm/v2"
	"github.com/NeowayLabs/drm/v2/ioctl"
)

const (
	DisplayInfoLen   = 32
	ConnectorNameLen = 32
	DisplayModeLen   = 32
	PropNameLen      = 32

	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3

	// resource lists may change between the count and fill ioctls when
	// something is hotplugged, so those calls are retried a few times.
	maxRetries = 4
)

type (
	sysResources struct {
		fbIdPtr              uintptr
		crtcIdPtr            uintptr
		connectorIdPtr       uintptr
		encoderIdPtr         uintptr
		CountFbs             uint32
		CountCrtcs           uint32
		CountConnectors      uint32
		CountEncoders        uint32
		MinWidth, MaxWidth   uint32
		MinHeight, MaxHeight uint32
	}

	sysGetConnector struct {
		encodersPtr   uintptr
		modesPtr      uintptr
		propsPtr      uintptr
		propValuesPtr uintptr

		countModes    uint32
		countProps    uint32
		countEncoders uint32

		encoderID       uint32 // current encoder
		ID              uint32
		connectorType   uint32
		connectorTypeID uint32

		connection        uint32
		mmWidth, mmHeight uint32 // HxW in millimeters
		subpixel          uint32
		pad               uint32
	}

	sysGetEncoder struct {
		id  uint32
		typ uint32

		crtcID uint32

		possibleCrtcs  uint32
		possibleClones uint32
	}

	// Info is struct drm_mode_modeinfo. Its memory layout is handed to the
	// kernel unchanged as the payload of a mode blob.
	Info struct {
		Clock                                         uint32
		Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
		Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

		Vrefresh uint32

		Flags uint32
		Type  uint32
		Name  [DisplayModeLen]uint8
	}

	Resources struct {
		sysResources

		Fbs        []uint32
		Crtcs      []uint32
		Connectors []uint32
		Encoders   []uint32
	}

	Connector struct {
		ID            uint32
		EncoderID     uint32
		Type          uint32
		TypeID        uint32
		Connection    uint8
		Width, Height uint32 // physical size in millimeters
		Subpixel      uint8

		Modes []Info

		Props      []uint32
		PropValues []uint64

		Encoders []uint32
	}

	Encoder struct {
		ID   uint32
		Type uint32

		CrtcID uint32

		PossibleCrtcs  uint32
		PossibleClones uint32
	}
)

var (
	// DRM_IOWR(0xA0, struct drm_mode_card_res)
	IOCTLModeResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysResources{})), drm.IOCTLBase, 0xA0)

	// DRM_IOWR(0xA6, struct drm_mode_get_encoder)
	IOCTLModeGetEncoder = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetEncoder{})), drm.IOCTLBase, 0xA6)

	// DRM_IOWR(0xA7, struct drm_mode_get_connector)
	IOCTLModeGetConnector = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetConnector{})), drm.IOCTLBase, 0xA7)
)

// String returns the mode name the kernel reports, or WxH@refresh when
// the name is empty.
func (i *Info) String() string {
	n := 0
	for n < len(i.Name) && i.Name[n] != 0 {
		n++
	}
	if n > 0 {
		return fmt.Sprintf("%s@%d", i.Name[:n], i.Vrefresh)
	}
	return fmt.Sprintf("%dx%d@%d", i.Hdisplay, i.Vdisplay, i.Vrefresh)
}

// Bytes returns the raw kernel representation of the mode, suitable as
// a property blob.
func (i *Info) Bytes() []byte {
	b := make([]byte, unsafe.Sizeof(*i))
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(i)), len(b)))
	return b
}

func GetResources(file *os.File) (*Resources, error) {
	var (
		fbids, crtcids, connectorids, encoderids []uint32
	)

	mres := &sysResources{}
	for try := 0; ; try++ {
		*mres = sysResources{}
		err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeResources),
			uintptr(unsafe.Pointer(mres)))
		if err != nil {
			return nil, err
		}

		fbids = make([]uint32, mres.CountFbs)
		crtcids = make([]uint32, mres.CountCrtcs)
		encoderids = make([]uint32, mres.CountEncoders)
		connectorids = make([]uint32, mres.CountConnectors)

		if mres.CountFbs > 0 {
			mres.fbIdPtr = uintptr(unsafe.Pointer(&fbids[0]))
		}
		if mres.CountCrtcs > 0 {
			mres.crtcIdPtr = uintptr(unsafe.Pointer(&crtcids[0]))
		}
		if mres.CountEncoders > 0 {
			mres.encoderIdPtr = uintptr(unsafe.Pointer(&encoderids[0]))
		}
		if mres.CountConnectors > 0 {
			mres.connectorIdPtr = uintptr(unsafe.Pointer(&connectorids[0]))
		}

		err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeResources),
			uintptr(unsafe.Pointer(mres)))
		if err != nil {
			return nil, err
		}

		// something was hotplugged in-between the ioctls above
		if mres.CountFbs > uint32(len(fbids)) ||
			mres.CountCrtcs > uint32(len(crtcids)) ||
			mres.CountEncoders > uint32(len(encoderids)) ||
			mres.CountConnectors > uint32(len(connectorids)) {
			if try < maxRetries {
				continue
			}
			return nil, fmt.Errorf("resources keep changing after %d tries", try+1)
		}
		break
	}

	return &Resources{
		sysResources: *mres,
		Fbs:          fbids[:mres.CountFbs],
		Crtcs:        crtcids[:mres.CountCrtcs],
		Encoders:     encoderids[:mres.CountEncoders],
		Connectors:   connectorids[:mres.CountConnectors],
	}, nil
}

// CrtcIndex returns the position of crtcid in the resource list. Bit
// masks like possible_crtcs are indexed by this position, not by id.
func (r *Resources) CrtcIndex(crtcid uint32) (int, bool) {
	for i, id := range r.Crtcs {
		if id == crtcid {
			return i, true
		}
	}
	return -1, false
}

func GetConnector(file *os.File, connid uint32) (*Connector, error) {
	var (
		props, encoders []uint32
		propValues      []uint64
		modes           []Info
	)

	conn := &sysGetConnector{}
	for try := 0; ; try++ {
		*conn = sysGetConnector{}
		conn.ID = connid
		err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetConnector),
			uintptr(unsafe.Pointer(conn)))
		if err != nil {
			return nil, err
		}

		props = make([]uint32, conn.countProps)
		propValues = make([]uint64, conn.countProps)
		encoders = make([]uint32, conn.countEncoders)

		if conn.countProps > 0 {
			conn.propsPtr = uintptr(unsafe.Pointer(&props[0]))
			conn.propValuesPtr = uintptr(unsafe.Pointer(&propValues[0]))
		}

		// A zero mode count would make the kernel probe the connector
		// again, which is slow. Passing room for one mode avoids it.
		if conn.countModes == 0 {
			conn.countModes = 1
		}
		modes = make([]Info, conn.countModes)
		conn.modesPtr = uintptr(unsafe.Pointer(&modes[0]))

		if conn.countEncoders > 0 {
			conn.encodersPtr = uintptr(unsafe.Pointer(&encoders[0]))
		}

		err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetConnector),
			uintptr(unsafe.Pointer(conn)))
		if err != nil {
			return nil, err
		}

		if conn.countModes > uint32(len(modes)) ||
			conn.countProps > uint32(len(props)) ||
			conn.countEncoders > uint32(len(encoders)) {
			if try < maxRetries {
				continue
			}
			return nil, fmt.Errorf("connector %d keeps changing after %d tries", connid, try+1)
		}
		break
	}

	ret := &Connector{
		ID:         conn.ID,
		EncoderID:  conn.encoderID,
		Connection: uint8(conn.connection),
		Width:      conn.mmWidth,
		Height:     conn.mmHeight,

		// convert subpixel from kernel to userspace
		Subpixel: uint8(conn.subpixel + 1),
		Type:     conn.connectorType,
		TypeID:   conn.connectorTypeID,
	}

	ret.Props = append([]uint32(nil), props[:conn.countProps]...)
	ret.PropValues = append([]uint64(nil), propValues[:conn.countProps]...)
	ret.Modes = append([]Info(nil), modes[:conn.countModes]...)
	ret.Encoders = append([]uint32(nil), encoders[:conn.countEncoders]...)

	return ret, nil
}

func GetEncoder(file *os.File, id uint32) (*Encoder, error) {
	encoder := &sysGetEncoder{}
	encoder.id = id

	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetEncoder),
		uintptr(unsafe.Pointer(encoder)))
	if err != nil {
		return nil, err
	}

	return &Encoder{
		ID:             encoder.id,
		CrtcID:         encoder.crtcID,
		Type:           encoder.typ,
		PossibleCrtcs:  encoder.possibleCrtcs,
		PossibleClones: encoder.possibleClones,
	}, nil
}
