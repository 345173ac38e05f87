package mode

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/NeowayLabs/drm/v2"
	"github.com/NeowayLabs/drm/v2/ioctl"
)

// Kernel object types, as passed to GetObjectProperties.
const (
	ObjectCrtc      = 0xcccccccc
	ObjectConnector = 0xc0c0c0c0
	ObjectEncoder   = 0xe0e0e0e0
	ObjectMode      = 0xdededede
	ObjectProperty  = 0xb0b0b0b0
	ObjectFB        = 0xfbfbfbfb
	ObjectBlob      = 0xbbbbbbbb
	ObjectPlane     = 0xeeeeeeee
	ObjectAny       = 0
)

type (
	sysObjGetProperties struct {
		propsPtr      uint64
		propValuesPtr uint64
		countProps    uint32
		objID         uint32
		objType       uint32
		pad           uint32
	}

	sysGetProperty struct {
		valuesPtr      uint64
		enumBlobPtr    uint64
		propID         uint32
		flags          uint32
		name           [PropNameLen]byte
		countValues    uint32
		countEnumBlobs uint32
	}

	sysCreateBlob struct {
		data   uint64
		length uint32
		blobID uint32
	}

	sysDestroyBlob struct {
		blobID uint32
	}

	// ObjectProperties holds the property ids of an object and their
	// current values, in kernel order.
	ObjectProperties struct {
		Props  []uint32
		Values []uint64
	}

	// Property is the metadata of a property: its id, name and flags.
	// Enum values and ranges are not fetched.
	Property struct {
		ID    uint32
		Flags uint32
		Name  string
	}
)

var (
	// DRM_IOWR(0xAA, struct drm_mode_get_property)
	IOCTLModeGetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetProperty{})), drm.IOCTLBase, 0xAA)

	// DRM_IOWR(0xB9, struct drm_mode_obj_get_properties)
	IOCTLModeObjGetProperties = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysObjGetProperties{})), drm.IOCTLBase, 0xB9)

	// DRM_IOWR(0xBD, struct drm_mode_create_blob)
	IOCTLModeCreatePropBlob = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCreateBlob{})), drm.IOCTLBase, 0xBD)

	// DRM_IOWR(0xBE, struct drm_mode_destroy_blob)
	IOCTLModeDestroyPropBlob = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysDestroyBlob{})), drm.IOCTLBase, 0xBE)
)

func GetObjectProperties(file *os.File, id, typ uint32) (*ObjectProperties, error) {
	var (
		props  []uint32
		values []uint64
	)

	req := &sysObjGetProperties{}
	for try := 0; ; try++ {
		*req = sysObjGetProperties{objID: id, objType: typ}
		err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeObjGetProperties),
			uintptr(unsafe.Pointer(req)))
		if err != nil {
			return nil, err
		}
		if req.countProps == 0 {
			return &ObjectProperties{}, nil
		}

		props = make([]uint32, req.countProps)
		values = make([]uint64, req.countProps)
		req.propsPtr = uint64(uintptr(unsafe.Pointer(&props[0])))
		req.propValuesPtr = uint64(uintptr(unsafe.Pointer(&values[0])))
		err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeObjGetProperties),
			uintptr(unsafe.Pointer(req)))
		if err != nil {
			return nil, err
		}
		if req.countProps > uint32(len(props)) {
			if try < maxRetries {
				continue
			}
			return nil, fmt.Errorf("properties of object %d keep changing after %d tries", id, try+1)
		}
		return &ObjectProperties{
			Props:  props[:req.countProps],
			Values: values[:req.countProps],
		}, nil
	}
}

func GetProperty(file *os.File, id uint32) (*Property, error) {
	prop := &sysGetProperty{}
	prop.propID = id
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetProperty),
		uintptr(unsafe.Pointer(prop)))
	if err != nil {
		return nil, err
	}

	name := prop.name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return &Property{
		ID:    prop.propID,
		Flags: prop.flags,
		Name:  string(name),
	}, nil
}

// CreatePropertyBlob copies data into a kernel held blob and returns its
// id. Blobs are referenced by id from atomic commits, e.g. MODE_ID.
func CreatePropertyBlob(file *os.File, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty property blob")
	}
	blob := &sysCreateBlob{
		data:   uint64(uintptr(unsafe.Pointer(&data[0]))),
		length: uint32(len(data)),
	}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeCreatePropBlob),
		uintptr(unsafe.Pointer(blob)))
	runtime.KeepAlive(data)
	if err != nil {
		return 0, err
	}
	return blob.blobID, nil
}

func DestroyPropertyBlob(file *os.File, id uint32) error {
	return ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeDestroyPropBlob),
		uintptr(unsafe.Pointer(&sysDestroyBlob{id})))
}
