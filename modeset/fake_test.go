package modeset

import (
	"fmt"
	"image/color"
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/drm/v2/mode"
	"github.com/NeowayLabs/drm/v2/pixel"
)

type (
	fakeEncoder struct {
		possible uint32
		crtc     int // index of the CRTC the encoder drives, -1 if none
	}

	fakeConnector struct {
		connected bool
		modes     []mode.Info
		encoders  []int // encoder indexes
		encoder   int   // bound encoder index, -1 if none
	}

	fakePlane struct {
		possible uint32
		typ      uint64
	}

	topology struct {
		crtcs      int
		encoders   []fakeEncoder
		connectors []fakeConnector
		planes     []fakePlane
	}

	flip struct {
		crtc uint32
		fb   uint32
	}

	// fakeDevice simulates a KMS device well enough to drive the
	// package: it keeps track of every kernel object handed out, checks
	// atomic requests against the object property tables and delivers
	// flip completions when asked to. Misuse that real hardware would
	// punish with tearing or worse is recorded in violations.
	fakeDevice struct {
		topo topology

		objType  map[uint32]uint32
		objProps map[uint32][]uint32
		values   map[uint32]map[uint32]uint64
		propName map[uint32]string
		missing  map[uint32]string

		nextID uint32
		blobs  map[uint32][]byte
		dumbs  map[uint32]*mode.Dumb
		fbs    map[uint32]uint32 // fb id to dumb handle
		mapped map[uint32][]byte // dumb handle to mapping

		hw       []flip // committed, completion not readable yet
		queued   []mode.Event
		busy     map[uint32]bool
		inflight map[uint32]int

		commits     int
		testCommits int
		lastFlags   uint32
		lastWrites  []mode.AtomicProperty

		calls    []string
		count    map[string]int
		failAt   map[string]int
		failCrtc map[uint32]bool

		rng        *rand.Rand
		stall      bool
		violations []string
	}
)

var errInjected = fmt.Errorf("injected failure: %w", unix.EIO)

var objectProperties = map[uint32][]string{
	mode.ObjectConnector: {"EDID", "DPMS", "CRTC_ID", "link-status"},
	mode.ObjectCrtc:      {"ACTIVE", "MODE_ID", "OUT_FENCE_PTR", "VRR_ENABLED"},
	mode.ObjectPlane: {"type", "FB_ID", "IN_FENCE_FD", "CRTC_ID", "SRC_X", "SRC_Y",
		"SRC_W", "SRC_H", "CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H"},
}

func crtcID(i int) uint32      { return uint32(100 + i) }
func encoderID(i int) uint32   { return uint32(200 + i) }
func connectorID(i int) uint32 { return uint32(300 + i) }
func planeID(i int) uint32     { return uint32(400 + i) }

func propID(typ uint32, i int) uint32 {
	switch typ {
	case mode.ObjectConnector:
		return uint32(1 + i)
	case mode.ObjectCrtc:
		return uint32(20 + i)
	}
	return uint32(40 + i)
}

func testMode(w, h uint16, name string) mode.Info {
	m := mode.Info{Hdisplay: w, Vdisplay: h, Vrefresh: 60}
	copy(m.Name[:], name)
	return m
}

// simpleTopology has n connected connectors, each with one encoder able
// to drive only its own CRTC, one primary plane per CRTC and an overlay
// plane usable everywhere listed first.
func simpleTopology(n int) topology {
	t := topology{crtcs: n}
	t.planes = append(t.planes, fakePlane{possible: 1<<n - 1, typ: mode.PlaneTypeOverlay})
	for i := 0; i < n; i++ {
		t.encoders = append(t.encoders, fakeEncoder{possible: 1 << i, crtc: -1})
		t.connectors = append(t.connectors, fakeConnector{
			connected: true,
			modes:     []mode.Info{testMode(uint16(50+i), 4, fmt.Sprintf("%dx4", 50+i)), testMode(8, 8, "8x8")},
			encoders:  []int{i},
			encoder:   -1,
		})
		t.planes = append(t.planes, fakePlane{possible: 1 << i, typ: mode.PlaneTypePrimary})
	}
	return t
}

func randomTopology(rng *rand.Rand) topology {
	t := topology{crtcs: 1 + rng.Intn(4)}
	all := 1<<t.crtcs - 1

	for i, n := 0, 1+rng.Intn(4); i < n; i++ {
		e := fakeEncoder{possible: uint32(rng.Intn(all + 1)), crtc: -1}
		if rng.Intn(3) == 0 {
			e.crtc = rng.Intn(t.crtcs)
			e.possible |= 1 << e.crtc
		}
		t.encoders = append(t.encoders, e)
	}

	for i, n := 0, 1+rng.Intn(5); i < n; i++ {
		c := fakeConnector{connected: rng.Intn(4) != 0, encoder: -1}
		if rng.Intn(5) != 0 {
			c.modes = []mode.Info{testMode(uint16(16+rng.Intn(32)), uint16(1+rng.Intn(8)), "")}
		}
		for j := range t.encoders {
			if rng.Intn(2) == 0 {
				c.encoders = append(c.encoders, j)
			}
		}
		if len(c.encoders) > 0 && rng.Intn(2) == 0 {
			c.encoder = c.encoders[rng.Intn(len(c.encoders))]
		}
		t.connectors = append(t.connectors, c)
	}

	for j := 0; j < t.crtcs; j++ {
		if rng.Intn(5) != 0 {
			t.planes = append(t.planes, fakePlane{
				possible: 1<<j | uint32(rng.Intn(all+1)),
				typ:      mode.PlaneTypePrimary,
			})
		}
		if rng.Intn(2) == 0 {
			t.planes = append(t.planes, fakePlane{
				possible: uint32(rng.Intn(all + 1)),
				typ:      uint64(rng.Intn(3)),
			})
		}
	}
	rng.Shuffle(len(t.planes), func(i, j int) {
		t.planes[i], t.planes[j] = t.planes[j], t.planes[i]
	})
	return t
}

func newFakeDevice(t topology) *fakeDevice {
	f := &fakeDevice{
		topo:     t,
		objType:  map[uint32]uint32{},
		objProps: map[uint32][]uint32{},
		values:   map[uint32]map[uint32]uint64{},
		propName: map[uint32]string{},
		missing:  map[uint32]string{},
		nextID:   1000,
		blobs:    map[uint32][]byte{},
		dumbs:    map[uint32]*mode.Dumb{},
		fbs:      map[uint32]uint32{},
		mapped:   map[uint32][]byte{},
		busy:     map[uint32]bool{},
		inflight: map[uint32]int{},
		count:    map[string]int{},
		failAt:   map[string]int{},
		failCrtc: map[uint32]bool{},
	}
	for typ, names := range objectProperties {
		for i, name := range names {
			f.propName[propID(typ, i)] = name
		}
	}

	add := func(id, typ uint32) {
		f.objType[id] = typ
		f.values[id] = map[uint32]uint64{}
		for i := range objectProperties[typ] {
			f.objProps[id] = append(f.objProps[id], propID(typ, i))
		}
	}
	for i := 0; i < t.crtcs; i++ {
		add(crtcID(i), mode.ObjectCrtc)
	}
	for i := range t.connectors {
		add(connectorID(i), mode.ObjectConnector)
	}
	for i, p := range t.planes {
		add(planeID(i), mode.ObjectPlane)
		f.values[planeID(i)][propID(mode.ObjectPlane, 0)] = p.typ
	}
	return f
}

func (f *fakeDevice) call(op string) error {
	f.calls = append(f.calls, op)
	f.count[op]++
	if n, ok := f.failAt[op]; ok && n == f.count[op] {
		return fmt.Errorf("%s: %w", op, errInjected)
	}
	return nil
}

func (f *fakeDevice) violate(format string, args ...interface{}) {
	f.violations = append(f.violations, fmt.Sprintf(format, args...))
}

func (f *fakeDevice) newID() uint32 {
	f.nextID++
	return f.nextID
}

// live summarizes the kernel objects still allocated.
func (f *fakeDevice) live() string {
	return fmt.Sprintf("blobs=%d dumbs=%d fbs=%d maps=%d",
		len(f.blobs), len(f.dumbs), len(f.fbs), len(f.mapped))
}

func (f *fakeDevice) Resources() (*mode.Resources, error) {
	if err := f.call("Resources"); err != nil {
		return nil, err
	}
	res := &mode.Resources{}
	for i := 0; i < f.topo.crtcs; i++ {
		res.Crtcs = append(res.Crtcs, crtcID(i))
	}
	for i := range f.topo.connectors {
		res.Connectors = append(res.Connectors, connectorID(i))
	}
	for i := range f.topo.encoders {
		res.Encoders = append(res.Encoders, encoderID(i))
	}
	return res, nil
}

func (f *fakeDevice) Connector(id uint32) (*mode.Connector, error) {
	if err := f.call("Connector"); err != nil {
		return nil, err
	}
	i := int(id) - 300
	if i < 0 || i >= len(f.topo.connectors) {
		return nil, unix.ENOENT
	}
	c := f.topo.connectors[i]
	conn := &mode.Connector{
		ID:         id,
		Connection: mode.Disconnected,
		Modes:      append([]mode.Info(nil), c.modes...),
	}
	if c.connected {
		conn.Connection = mode.Connected
	}
	for _, e := range c.encoders {
		conn.Encoders = append(conn.Encoders, encoderID(e))
	}
	if c.encoder >= 0 {
		conn.EncoderID = encoderID(c.encoder)
	}
	return conn, nil
}

func (f *fakeDevice) Encoder(id uint32) (*mode.Encoder, error) {
	if err := f.call("Encoder"); err != nil {
		return nil, err
	}
	i := int(id) - 200
	if i < 0 || i >= len(f.topo.encoders) {
		return nil, unix.ENOENT
	}
	e := f.topo.encoders[i]
	enc := &mode.Encoder{ID: id, PossibleCrtcs: e.possible}
	if e.crtc >= 0 {
		enc.CrtcID = crtcID(e.crtc)
	}
	return enc, nil
}

func (f *fakeDevice) PlaneResources() ([]uint32, error) {
	if err := f.call("PlaneResources"); err != nil {
		return nil, err
	}
	var ids []uint32
	for i := range f.topo.planes {
		ids = append(ids, planeID(i))
	}
	return ids, nil
}

func (f *fakeDevice) Plane(id uint32) (*mode.Plane, error) {
	if err := f.call("Plane"); err != nil {
		return nil, err
	}
	i := int(id) - 400
	if i < 0 || i >= len(f.topo.planes) {
		return nil, unix.ENOENT
	}
	return &mode.Plane{
		ID:            id,
		PossibleCrtcs: f.topo.planes[i].possible,
		Formats:       []uint32{mode.FormatXRGB8888},
	}, nil
}

func (f *fakeDevice) ObjectProperties(id, typ uint32) (*mode.ObjectProperties, error) {
	if err := f.call("ObjectProperties"); err != nil {
		return nil, err
	}
	if t, ok := f.objType[id]; !ok || t != typ {
		return nil, unix.ENOENT
	}
	props := &mode.ObjectProperties{}
	for _, p := range f.objProps[id] {
		if f.missing[id] == f.propName[p] {
			continue
		}
		props.Props = append(props.Props, p)
		props.Values = append(props.Values, f.values[id][p])
	}
	return props, nil
}

func (f *fakeDevice) Property(id uint32) (*mode.Property, error) {
	if err := f.call("Property"); err != nil {
		return nil, err
	}
	name, ok := f.propName[id]
	if !ok {
		return nil, unix.ENOENT
	}
	return &mode.Property{ID: id, Name: name}, nil
}

func (f *fakeDevice) CreatePropertyBlob(data []byte) (uint32, error) {
	if err := f.call("CreatePropertyBlob"); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, unix.EINVAL
	}
	id := f.newID()
	f.blobs[id] = append([]byte(nil), data...)
	return id, nil
}

func (f *fakeDevice) DestroyPropertyBlob(id uint32) error {
	if err := f.call("DestroyPropertyBlob"); err != nil {
		return err
	}
	if _, ok := f.blobs[id]; !ok {
		return unix.ENOENT
	}
	delete(f.blobs, id)
	return nil
}

func (f *fakeDevice) CreateDumb(width, height, bpp uint32) (*mode.Dumb, error) {
	if err := f.call("CreateDumb"); err != nil {
		return nil, err
	}
	pitch := (width*bpp/8 + 63) &^ 63
	d := &mode.Dumb{
		Width:  width,
		Height: height,
		BPP:    bpp,
		Handle: f.newID(),
		Pitch:  pitch,
		Size:   uint64(pitch) * uint64(height),
	}
	f.dumbs[d.Handle] = d
	return d, nil
}

func (f *fakeDevice) AddFB2(width, height, format, handle, pitch uint32) (uint32, error) {
	if err := f.call("AddFB2"); err != nil {
		return 0, err
	}
	d, ok := f.dumbs[handle]
	if !ok || format != mode.FormatXRGB8888 || pitch != d.Pitch ||
		width != d.Width || height != d.Height {
		return 0, unix.EINVAL
	}
	id := f.newID()
	f.fbs[id] = handle
	return id, nil
}

func (f *fakeDevice) MapDumb(handle uint32) (uint64, error) {
	if err := f.call("MapDumb"); err != nil {
		return 0, err
	}
	if _, ok := f.dumbs[handle]; !ok {
		return 0, unix.ENOENT
	}
	return uint64(handle) << 12, nil
}

func (f *fakeDevice) Mmap(offset, size uint64) ([]byte, error) {
	if err := f.call("Mmap"); err != nil {
		return nil, err
	}
	handle := uint32(offset >> 12)
	d, ok := f.dumbs[handle]
	if !ok || size != d.Size {
		return nil, unix.EINVAL
	}
	if _, ok := f.mapped[handle]; ok {
		return nil, unix.EBUSY
	}
	b := make([]byte, size)
	for i := range b {
		b[i] = 0xa5
	}
	f.mapped[handle] = b
	return b, nil
}

func (f *fakeDevice) handleOf(b []byte) (uint32, bool) {
	if len(b) == 0 {
		return 0, false
	}
	for h, m := range f.mapped {
		if &m[0] == &b[0] {
			return h, true
		}
	}
	return 0, false
}

func (f *fakeDevice) fbOf(handle uint32) (uint32, bool) {
	for fb, h := range f.fbs {
		if h == handle {
			return fb, true
		}
	}
	return 0, false
}

func (f *fakeDevice) Munmap(b []byte) error {
	if err := f.call("Munmap"); err != nil {
		return err
	}
	h, ok := f.handleOf(b)
	if !ok {
		return unix.EINVAL
	}
	if fb, ok := f.fbOf(h); ok && f.inflight[fb] > 0 {
		f.violate("unmapped framebuffer %d with a flip in flight", fb)
	}
	delete(f.mapped, h)
	return nil
}

func (f *fakeDevice) RmFB(id uint32) error {
	if err := f.call("RmFB"); err != nil {
		return err
	}
	if _, ok := f.fbs[id]; !ok {
		return unix.ENOENT
	}
	if f.inflight[id] > 0 {
		f.violate("removed framebuffer %d with a flip in flight", id)
	}
	delete(f.fbs, id)
	return nil
}

func (f *fakeDevice) DestroyDumb(handle uint32) error {
	if err := f.call("DestroyDumb"); err != nil {
		return err
	}
	if _, ok := f.dumbs[handle]; !ok {
		return unix.ENOENT
	}
	if _, ok := f.mapped[handle]; ok {
		f.violate("destroyed dumb buffer %d while mapped", handle)
	}
	if fb, ok := f.fbOf(handle); ok {
		f.violate("destroyed dumb buffer %d before framebuffer %d", handle, fb)
	}
	delete(f.dumbs, handle)
	return nil
}

func (f *fakeDevice) AtomicCommit(req *mode.AtomicReq, flags uint32, userData uint64) error {
	writes := req.Properties()
	if len(writes) == 0 {
		return unix.EINVAL
	}

	crtcs := map[uint32]bool{}
	planeFB := map[uint32]uint32{}
	planeCrtc := map[uint32]uint32{}
	for _, w := range writes {
		typ, ok := f.objType[w.Object]
		if !ok {
			return unix.ENOENT
		}
		known := false
		for _, p := range f.objProps[w.Object] {
			known = known || p == w.Property
		}
		if !known {
			return unix.EINVAL
		}
		switch {
		case typ == mode.ObjectCrtc:
			crtcs[w.Object] = true
		case typ == mode.ObjectPlane && f.propName[w.Property] == "FB_ID":
			planeFB[w.Object] = uint32(w.Value)
		case typ == mode.ObjectPlane && f.propName[w.Property] == "CRTC_ID":
			planeCrtc[w.Object] = uint32(w.Value)
		}
	}
	for plane, fb := range planeFB {
		h, ok := f.fbs[fb]
		if !ok {
			return unix.ENOENT
		}
		if _, ok := f.mapped[h]; !ok {
			f.violate("plane %d shows unmapped framebuffer %d", plane, fb)
		}
	}

	if flags&mode.AtomicTestOnly != 0 {
		f.testCommits++
		if err := f.call("TestOnly"); err != nil {
			return err
		}
		return nil
	}

	if err := f.call("AtomicCommit"); err != nil {
		return err
	}
	for crtc := range crtcs {
		if f.failCrtc[crtc] {
			return unix.EINVAL
		}
	}
	for crtc := range crtcs {
		if f.busy[crtc] {
			f.violate("commit on crtc %d with a flip pending", crtc)
			return unix.EBUSY
		}
	}

	f.commits++
	f.lastFlags = flags
	f.lastWrites = writes
	if flags&mode.PageFlipEvent == 0 {
		return nil
	}

	ids := make([]uint32, 0, len(crtcs))
	for crtc := range crtcs {
		ids = append(ids, crtc)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, crtc := range ids {
		fl := flip{crtc: crtc}
		for plane, c := range planeCrtc {
			if c == crtc {
				fl.fb = planeFB[plane]
			}
		}
		f.hw = append(f.hw, fl)
		f.busy[crtc] = true
		f.inflight[fl.fb]++
	}
	return nil
}

// complete makes the completion of the flip on crtc readable.
func (f *fakeDevice) complete(crtc uint32) bool {
	for i, fl := range f.hw {
		if fl.crtc == crtc {
			f.hw = append(f.hw[:i], f.hw[i+1:]...)
			f.queued = append(f.queued, mode.Event{
				Type:     mode.EventFlipComplete,
				CrtcID:   fl.crtc,
				UserData: uint64(fl.fb),
			})
			return true
		}
	}
	return false
}

func (f *fakeDevice) Wait(timeout time.Duration) (bool, error) {
	if err := f.call("Wait"); err != nil {
		return false, err
	}
	if len(f.queued) > 0 {
		return true, nil
	}
	if f.stall || len(f.hw) == 0 {
		return false, nil
	}
	if f.rng == nil {
		for len(f.hw) > 0 {
			f.complete(f.hw[0].crtc)
		}
		return true, nil
	}
	// some CRTCs finish before others, but each one in order
	for n := 1 + f.rng.Intn(len(f.hw)); n > 0 && len(f.hw) > 0; n-- {
		f.complete(f.hw[f.rng.Intn(len(f.hw))].crtc)
	}
	return true, nil
}

func (f *fakeDevice) ReadEvents() ([]mode.Event, error) {
	if err := f.call("ReadEvents"); err != nil {
		return nil, err
	}
	events := f.queued
	f.queued = nil
	for _, ev := range events {
		if ev.Type != mode.EventFlipComplete {
			continue
		}
		f.busy[ev.CrtcID] = false
		f.inflight[uint32(ev.UserData)]--
	}
	return events, nil
}

// recordPainter fills each frame with a distinct color and checks that
// the image handed over is never the front buffer of its display.
type recordPainter struct {
	reg    *Registry
	frames map[uint32]int
	errs   []string
}

func newRecordPainter(reg *Registry) *recordPainter {
	return &recordPainter{reg: reg, frames: map[uint32]int{}}
}

func (p *recordPainter) Paint(conn uint32, img *pixel.XRGB8888) {
	p.frames[conn]++
	for _, d := range p.reg.Displays() {
		if d.Connector.ID != conn {
			continue
		}
		if front := d.Buffers[d.Front]; &front.Pix[0] == &img.Pix[0] {
			p.errs = append(p.errs, fmt.Sprintf("connector %d: painting front buffer %d", conn, d.Front))
		}
	}
	n := uint8(p.frames[conn])
	img.Fill(pixelColor(n))
}

func pixelColor(n uint8) color.RGBA {
	return color.RGBA{R: n, G: ^n, B: n * 3, A: 0xff}
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

// claimed returns a device set up with the displays of t.
func claimed(t topology) (*fakeDevice, *Registry, error) {
	f := newFakeDevice(t)
	reg := NewRegistry()
	err := Claim(f, reg, discardLogger())
	return f, reg, err
}
