package ioctl

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// To decode a hex IOCTL code:
//
// Most architectures use this generic format, but check
// include/ARCH/ioctl.h for specifics, e.g. powerpc
// uses 3 bits to encode read/write and 13 bits for size.
//
//  bits    meaning
//  31-30	00 - no parameters: uses _IO macro
// 	10 - read: _IOR
// 	01 - write: _IOW
// 	11 - read/write: _IOWR
//
//  29-16	size of arguments
//
//  15-8	ascii character supposedly
// 	unique to each driver
//
//  7-0	function #
//
// source: https://www.kernel.org/doc/Documentation/ioctl/ioctl-decoding.txt

const (
	None  = uint8(0x0)
	Write = uint8(0x1)
	Read  = uint8(0x2)

	maxSize = 1<<14 - 1
)

// Error is a failed ioctl call. Err is the raw errno so callers can
// match it with errors.Is(err, unix.EINVAL) and friends.
type Error struct {
	Code uint32
	Err  unix.Errno
}

func (e *Error) Error() string {
	return fmt.Sprintf("ioctl 0x%08x (fn 0x%02x): %s", e.Code, uint8(e.Code), e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

func NewCode(typ uint8, sz uint16, uniq, fn uint8) uint32 {
	var code uint32
	if typ > Write|Read {
		panic(fmt.Errorf("invalid ioctl code value: %d\n", typ))
	}

	if sz > maxSize {
		panic(fmt.Errorf("invalid ioctl size value: %d\n", sz))
	}

	code = code | (uint32(typ) << 30)
	code = code | (uint32(sz) << 16) // sz has 14bits
	code = code | (uint32(uniq) << 8)
	code = code | uint32(fn)
	return code
}

// Do issues the ioctl, retrying while the call is interrupted by a
// signal the way libdrm's drmIoctl does.
func Do(fd, cmd, ptr uintptr) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, cmd, ptr)
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		}
		return &Error{Code: uint32(cmd), Err: errno}
	}
}
