package modeset

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/NeowayLabs/drm/v2/mode"
	"github.com/NeowayLabs/drm/v2/pixel"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultDrainTimeout = 3 * time.Second
)

// Painter draws the next frame of the display on connector into img.
// It runs synchronously on the event loop.
type Painter interface {
	Paint(connector uint32, img *pixel.XRGB8888)
}

type PainterFunc func(connector uint32, img *pixel.XRGB8888)

func (f PainterFunc) Paint(connector uint32, img *pixel.XRGB8888) { f(connector, img) }

type Options struct {
	Logger  *log.Logger
	Painter Painter

	// PollInterval bounds how long Run blocks waiting for events, and so
	// how late it notices its context being done.
	PollInterval time.Duration

	// DrainTimeout bounds how long Teardown waits for one display's
	// pending flip.
	DrainTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Painter == nil {
		o.Painter = PainterFunc(func(uint32, *pixel.XRGB8888) {})
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	return o
}

// Scheduler keeps every registered display flipping. A display is only
// repainted and committed again after the kernel reported that its last
// flip completed, so at most one flip per display is ever in flight.
type Scheduler struct {
	dev  Device
	reg  *Registry
	opts Options
	log  *log.Logger
}

func NewScheduler(dev Device, reg *Registry, opts Options) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		dev:  dev,
		reg:  reg,
		opts: opts,
		log:  opts.Logger,
	}
}

// Modeset validates the configuration of all registered displays with a
// single test-only commit, paints their first frames and commits them
// together. A rejected configuration wraps ErrValidation. Afterwards
// every display has a flip pending.
func (s *Scheduler) Modeset() error {
	displays := s.reg.Displays()
	if len(displays) == 0 {
		return ErrNoDisplays
	}

	req := mode.NewAtomicReq()
	for _, d := range displays {
		if err := BuildTransition(d, req); err != nil {
			return fmt.Errorf("cannot prepare commit for connector %d: %w", d.Connector.ID, err)
		}
	}

	err := s.dev.AtomicCommit(req, mode.AtomicTestOnly|mode.AtomicAllowModeset, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	s.log.Debug("test-only commit accepted", "displays", len(displays), "writes", req.Len())

	for _, d := range displays {
		s.paint(d)
	}

	err = s.dev.AtomicCommit(req, mode.PageFlipEvent|mode.AtomicNonBlock|mode.AtomicAllowModeset, 0)
	if err != nil {
		for _, d := range displays {
			d.Halted = true
		}
		return fmt.Errorf("initial atomic commit: %w", err)
	}
	for _, d := range displays {
		d.Front ^= 1
		d.FlipPending = true
	}
	return nil
}

// HandleFlip processes the completion of the flip on CRTC crtcID. Unless
// the display is closing it gets its next frame painted and committed.
func (s *Scheduler) HandleFlip(crtcID uint32) {
	d := s.reg.ByCrtc(crtcID)
	if d == nil {
		s.log.Debug("flip event for unknown crtc", "crtc", crtcID)
		return
	}
	if !d.FlipPending {
		s.log.Warn("flip event without pending flip", "crtc", crtcID)
	}
	d.FlipPending = false

	if d.Closing || d.Halted {
		return
	}
	s.drawOutput(d)
}

func (s *Scheduler) drawOutput(d *Display) {
	s.paint(d)

	req := mode.NewAtomicReq()
	if err := BuildTransition(d, req); err != nil {
		s.halt(d, err)
		return
	}
	if err := s.dev.AtomicCommit(req, mode.PageFlipEvent|mode.AtomicNonBlock, 0); err != nil {
		s.halt(d, fmt.Errorf("atomic commit: %w", err))
		return
	}
	d.Front ^= 1
	d.FlipPending = true
}

func (s *Scheduler) paint(d *Display) {
	s.opts.Painter.Paint(d.Connector.ID, d.Back().Image())
}

func (s *Scheduler) halt(d *Display, err error) {
	d.Halted = true
	s.log.Error("display stopped", "connector", d.Connector.ID, "crtc", d.Crtc.ID, "err", err)
}

// Dispatch reads the pending events once and handles every flip
// completion among them.
func (s *Scheduler) Dispatch() error {
	events, err := s.dev.ReadEvents()
	if err != nil {
		return fmt.Errorf("cannot read events: %w", err)
	}
	for _, ev := range events {
		if ev.Type != mode.EventFlipComplete {
			continue
		}
		s.HandleFlip(ev.CrtcID)
	}
	return nil
}

func (s *Scheduler) active() bool {
	for _, d := range s.reg.Displays() {
		if !d.Halted || d.FlipPending {
			return true
		}
	}
	return false
}

// Run dispatches events until ctx is done or no display is driven any
// more. It does not tear anything down.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !s.active() {
			s.log.Warn("no display left to drive")
			return nil
		}

		ready, err := s.dev.Wait(s.opts.PollInterval)
		if err != nil {
			return fmt.Errorf("cannot wait for events: %w", err)
		}
		if !ready {
			continue
		}
		if err := s.Dispatch(); err != nil {
			return err
		}
	}
}
