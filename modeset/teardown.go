package modeset

import (
	"errors"
	"fmt"
	"time"
)

// Teardown stops every display and releases its resources. Displays are
// first all marked closing so no new flip gets scheduled, then handled
// one by one: its pending flip, if any, is waited for before anything it
// may scan out is freed. A display whose flip does not complete within
// DrainTimeout is dropped with its buffers leaked.
func (s *Scheduler) Teardown() error {
	displays := s.reg.Displays()
	for _, d := range displays {
		d.Closing = true
	}

	var errs []error
	for _, d := range displays {
		if d.FlipPending {
			s.log.Info("waiting for pending page flip", "crtc", d.Crtc.ID)
		}
		if err := s.drain(d); err != nil {
			s.log.Error("leaking display resources", "connector", d.Connector.ID, "crtc", d.Crtc.ID, "err", err)
			errs = append(errs, err)
			s.reg.Remove(d)
			continue
		}

		if err := d.release(s.dev); err != nil {
			errs = append(errs, fmt.Errorf("connector %d: %w", d.Connector.ID, err))
		}
		s.reg.Remove(d)
	}
	return errors.Join(errs...)
}

// drain dispatches events until d has no flip pending. Events of other
// displays are handled along the way; being closing, they only clear
// their pending flag.
func (s *Scheduler) drain(d *Display) error {
	deadline := time.Now().Add(s.opts.DrainTimeout)
	for d.FlipPending {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("crtc %d: %w after %s", d.Crtc.ID, ErrFlipPending, s.opts.DrainTimeout)
		}
		ready, err := s.dev.Wait(min(remaining, s.opts.PollInterval))
		if err != nil {
			return fmt.Errorf("crtc %d: cannot wait for events: %w", d.Crtc.ID, err)
		}
		if !ready {
			continue
		}
		if err := s.Dispatch(); err != nil {
			return fmt.Errorf("crtc %d: %w", d.Crtc.ID, err)
		}
	}
	return nil
}
