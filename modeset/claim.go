package modeset

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/NeowayLabs/drm/v2/mode"
)

// Claim sets up a Display for every connected connector that can get a
// mode, a free CRTC and a primary plane, and adds it to reg. Connectors
// are tried in the kernel's order and one failing does not stop the
// others. ErrNoDisplays is returned when nothing was registered.
func Claim(dev Device, reg *Registry, logger *log.Logger) error {
	res, err := dev.Resources()
	if err != nil {
		return fmt.Errorf("cannot retrieve DRM resources: %w", err)
	}

	for i, id := range res.Connectors {
		conn, err := dev.Connector(id)
		if err != nil {
			logger.Warn("cannot retrieve connector", "index", i, "connector", id, "err", err)
			continue
		}

		d, err := newDisplay(dev, res, conn, reg, logger)
		if err != nil {
			if errors.Is(err, ErrNotConnected) {
				logger.Debug("ignoring unused connector", "connector", id)
			} else {
				logger.Warn("cannot set up connector", "connector", id, "err", err)
			}
			continue
		}

		reg.Add(d)
		logger.Info("display ready",
			"connector", d.Connector.ID,
			"crtc", d.Crtc.ID,
			"plane", d.Plane.ID,
			"mode", d.Mode.String())
	}

	if reg.Len() == 0 {
		return ErrNoDisplays
	}
	return nil
}

func newDisplay(dev Device, res *mode.Resources, conn *mode.Connector,
	reg *Registry, logger *log.Logger) (_ *Display, err error) {
	if conn.Connection != mode.Connected {
		return nil, fmt.Errorf("connector %d: %w", conn.ID, ErrNotConnected)
	}
	if len(conn.Modes) == 0 {
		return nil, fmt.Errorf("connector %d: %w", conn.ID, ErrNoMode)
	}

	d := &Display{Mode: conn.Modes[0]}
	defer func() {
		if err != nil {
			err = errors.Join(err, d.release(dev))
		}
	}()

	logger.Debug("using mode", "connector", conn.ID, "mode", d.Mode.String())
	if d.Mode.Hdisplay == 0 || d.Mode.Vdisplay == 0 {
		return nil, fmt.Errorf("connector %d: mode %s: %w", conn.ID, d.Mode.String(), ErrNoMode)
	}

	d.ModeBlob, err = dev.CreatePropertyBlob(d.Mode.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cannot create mode blob: %w", err)
	}

	crtcID, index, err := findCrtc(dev, res, conn, reg, logger)
	if err != nil {
		return nil, err
	}
	d.CrtcIndex = index

	if d.Plane, err = findPlane(dev, index, reg, logger); err != nil {
		return nil, err
	}
	if d.Connector, err = LoadObject(dev, conn.ID, mode.ObjectConnector); err != nil {
		return nil, err
	}
	if d.Crtc, err = LoadObject(dev, crtcID, mode.ObjectCrtc); err != nil {
		return nil, err
	}

	for i := range d.Buffers {
		if d.Buffers[i], err = createBacking(dev, d.Width(), d.Height()); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// findCrtc keeps the CRTC the connector is already driven by when it is
// free, so no full modeset is needed. Otherwise it takes the first free
// CRTC any of the connector's encoders can drive.
func findCrtc(dev Device, res *mode.Resources, conn *mode.Connector,
	reg *Registry, logger *log.Logger) (uint32, int, error) {
	if conn.EncoderID != 0 {
		enc, err := dev.Encoder(conn.EncoderID)
		switch {
		case err != nil:
			logger.Debug("cannot retrieve bound encoder", "encoder", conn.EncoderID, "err", err)
		case enc.CrtcID != 0 && !reg.CrtcClaimed(enc.CrtcID):
			if index, ok := res.CrtcIndex(enc.CrtcID); ok {
				return enc.CrtcID, index, nil
			}
		}
	}

	for i, encID := range conn.Encoders {
		enc, err := dev.Encoder(encID)
		if err != nil {
			logger.Warn("cannot retrieve encoder", "index", i, "encoder", encID, "err", err)
			continue
		}
		for j, crtcID := range res.Crtcs {
			if enc.PossibleCrtcs&(1<<uint(j)) == 0 {
				continue
			}
			if reg.CrtcClaimed(crtcID) {
				continue
			}
			return crtcID, j, nil
		}
	}
	return 0, -1, fmt.Errorf("connector %d: %w", conn.ID, ErrNoCrtc)
}

// findPlane returns the first unclaimed primary plane usable with the
// CRTC at index.
func findPlane(dev Device, index int, reg *Registry, logger *log.Logger) (*Object, error) {
	planes, err := dev.PlaneResources()
	if err != nil {
		return nil, fmt.Errorf("cannot retrieve plane resources: %w", err)
	}

	for _, id := range planes {
		p, err := dev.Plane(id)
		if err != nil {
			logger.Warn("cannot retrieve plane", "plane", id, "err", err)
			continue
		}
		if p.PossibleCrtcs&(1<<uint(index)) == 0 || reg.PlaneClaimed(id) {
			continue
		}

		obj, err := LoadObject(dev, id, mode.ObjectPlane)
		if err != nil {
			logger.Warn("cannot load plane", "plane", id, "err", err)
			continue
		}
		typ, err := obj.Value("type")
		if err != nil || typ != mode.PlaneTypePrimary {
			obj.release()
			continue
		}
		return obj, nil
	}
	return nil, fmt.Errorf("crtc index %d: %w", index, ErrNoPlane)
}
