// Package modeset drives display outputs with atomic mode setting and
// double buffered page flips.
//
// Claim assigns every connected connector a CRTC and a primary plane and
// allocates two dumb buffers for it. A Scheduler validates the combined
// configuration with a test-only commit, shows the first frames and then
// repaints and flips each display every time the kernel reports that its
// previous flip completed. Teardown waits for in-flight flips before any
// buffer is released.
//
// All of it runs on the caller's goroutine; nothing here is safe for
// concurrent use.
package modeset
