package drm

import (
	"bytes"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/NeowayLabs/drm/v2/ioctl"
)

type (
	version struct {
		Major   int32
		Minor   int32
		Patch   int32
		namelen int64
		name    uintptr
		datelen int64
		date    uintptr
		desclen int64
		desc    uintptr
	}

	// Version of DRM driver
	Version struct {
		Major, Minor, Patch int32
		Name                string // Name of the driver (eg.: i915)
		Date                string
		Desc                string
	}
)

const (
	driPath = "/dev/dri"
)

func (v Version) String() string {
	return fmt.Sprintf("%s %d.%d.%d (%s)", v.Name, v.Major, v.Minor, v.Patch, v.Date)
}

func Available() (Version, error) {
	f, err := OpenCard(0)
	if err != nil {
		return Version{}, err
	}
	defer f.Close()
	return GetVersion(f)
}

// CardPath returns the device node of the primary card n.
func CardPath(n int) string {
	return fmt.Sprintf("%s/card%d", driPath, n)
}

func OpenCard(n int) (*os.File, error) {
	return Open(CardPath(n))
}

func OpenRenderDev(n int) (*os.File, error) {
	return Open(fmt.Sprintf("%s/renderD%d", driPath, n))
}

// Open opens a DRM device node for reading and writing. The descriptor
// is not inherited by child processes.
func Open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|syscall.O_CLOEXEC, 0)
}

func GetVersion(file *os.File) (Version, error) {
	var (
		name, date, desc []byte
	)

	version := &version{}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, err
	}

	if version.namelen > 0 {
		name = make([]byte, version.namelen+1)
		version.name = uintptr(unsafe.Pointer(&name[0]))
	}
	if version.datelen > 0 {
		date = make([]byte, version.datelen+1)
		version.date = uintptr(unsafe.Pointer(&date[0]))
	}
	if version.desclen > 0 {
		desc = make([]byte, version.desclen+1)
		version.desc = uintptr(unsafe.Pointer(&desc[0]))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, err
	}

	return Version{
		Major: version.Major,
		Minor: version.Minor,
		Patch: version.Patch,
		Name:  cstring(name, version.namelen),
		Date:  cstring(date, version.datelen),
		Desc:  cstring(desc, version.desclen),
	}, nil
}

// cstring trims a kernel filled buffer to its reported length and drops
// any trailing NUL bytes.
func cstring(b []byte, n int64) string {
	if int64(len(b)) > n {
		b = b[:n]
	}
	return string(bytes.TrimRight(b, "\x00"))
}
