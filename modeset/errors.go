package modeset

import (
	"errors"
	"fmt"
)

var (
	ErrPropertyNotFound = errors.New("property not found")
	ErrNotConnected     = errors.New("connector not connected")
	ErrNoMode           = errors.New("no valid mode")
	ErrNoCrtc           = errors.New("no free crtc")
	ErrNoPlane          = errors.New("no primary plane")
	ErrNoDisplays       = errors.New("no display could be set up")
	ErrValidation       = errors.New("test-only atomic commit rejected")
	ErrFlipPending      = errors.New("page flip still pending")
)

// PropertyError reports a property name missing from an object's cache.
type PropertyError struct {
	Object uint32
	Type   uint32
	Name   string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("%s %d has no property %q", objectTypeName(e.Type), e.Object, e.Name)
}

func (e *PropertyError) Unwrap() error { return ErrPropertyNotFound }
