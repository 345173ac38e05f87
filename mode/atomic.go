package mode

import (
	"os"
	"runtime"
	"sort"
	"unsafe"

	"github.com/NeowayLabs/drm/v2"
	"github.com/NeowayLabs/drm/v2/ioctl"
)

// Flags of AtomicCommit.
const (
	PageFlipEvent        = 0x01
	AtomicTestOnly       = 0x0100
	AtomicNonBlock       = 0x0200
	AtomicAllowModeset   = 0x0400
	atomicFlagsSupported = PageFlipEvent | AtomicTestOnly | AtomicNonBlock | AtomicAllowModeset
)

type (
	sysAtomic struct {
		flags         uint32
		countObjs     uint32
		objsPtr       uint64
		countPropsPtr uint64
		propsPtr      uint64
		propValuesPtr uint64
		reserved      uint64
		userData      uint64
	}

	// AtomicProperty is a single object property write.
	AtomicProperty struct {
		Object   uint32
		Property uint32
		Value    uint64
	}

	// AtomicReq accumulates property writes to submit as one
	// all-or-nothing transaction. The zero value is an empty request.
	AtomicReq struct {
		items []AtomicProperty
	}

	// atomicArgs is the flattened form of a request: writes grouped by
	// object in the layout the kernel expects.
	atomicArgs struct {
		objs       []uint32
		countProps []uint32
		props      []uint32
		values     []uint64
	}
)

var (
	// DRM_IOWR(0xBC, struct drm_mode_atomic)
	IOCTLModeAtomic = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysAtomic{})), drm.IOCTLBase, 0xBC)
)

func NewAtomicReq() *AtomicReq {
	return &AtomicReq{}
}

// Add appends a property write and returns the new length of the request.
func (r *AtomicReq) Add(object, property uint32, value uint64) int {
	r.items = append(r.items, AtomicProperty{object, property, value})
	return len(r.items)
}

// Cursor returns a position that SetCursor can roll the request back to.
func (r *AtomicReq) Cursor() int {
	return len(r.items)
}

// SetCursor drops every write added after cursor was taken.
func (r *AtomicReq) SetCursor(cursor int) {
	if cursor >= 0 && cursor < len(r.items) {
		r.items = r.items[:cursor]
	}
}

// Len is the number of writes, duplicates included.
func (r *AtomicReq) Len() int {
	return len(r.items)
}

// Properties returns a copy of the writes in the order they were added.
func (r *AtomicReq) Properties() []AtomicProperty {
	return append([]AtomicProperty(nil), r.items...)
}

// Merge appends all writes of other.
func (r *AtomicReq) Merge(other *AtomicReq) {
	r.items = append(r.items, other.items...)
}

// flatten groups writes by object id. When the same property of an
// object is written more than once the last write wins.
func (r *AtomicReq) flatten() atomicArgs {
	items := make([]AtomicProperty, len(r.items))
	copy(items, r.items)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Object != items[j].Object {
			return items[i].Object < items[j].Object
		}
		return items[i].Property < items[j].Property
	})

	var args atomicArgs
	for i, it := range items {
		if i+1 < len(items) && items[i+1].Object == it.Object &&
			items[i+1].Property == it.Property {
			continue
		}
		if n := len(args.objs); n == 0 || args.objs[n-1] != it.Object {
			args.objs = append(args.objs, it.Object)
			args.countProps = append(args.countProps, 0)
		}
		args.countProps[len(args.countProps)-1]++
		args.props = append(args.props, it.Property)
		args.values = append(args.values, it.Value)
	}
	return args
}

// AtomicCommit submits the request. userData is echoed back in the flip
// completion events the commit generates when PageFlipEvent is set.
func AtomicCommit(file *os.File, req *AtomicReq, flags uint32, userData uint64) error {
	args := req.flatten()

	a := &sysAtomic{
		flags:     flags & atomicFlagsSupported,
		countObjs: uint32(len(args.objs)),
		userData:  userData,
	}
	if len(args.objs) > 0 {
		a.objsPtr = uint64(uintptr(unsafe.Pointer(&args.objs[0])))
		a.countPropsPtr = uint64(uintptr(unsafe.Pointer(&args.countProps[0])))
		a.propsPtr = uint64(uintptr(unsafe.Pointer(&args.props[0])))
		a.propValuesPtr = uint64(uintptr(unsafe.Pointer(&args.values[0])))
	}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeAtomic),
		uintptr(unsafe.Pointer(a)))
	runtime.KeepAlive(args)
	return err
}
