// Package drm provides a library to interact with DRM
// (Direct Rendering Manager) and KMS (Kernel Mode Setting) interfaces.
// DRM is a low level interface for the graphics card (gpu) and this package
// enables the creation of graphics library on top of the kernel drm/kms
// subsystem.
//
// The root package opens device nodes and negotiates capabilities. Package
// mode wraps the KMS ioctls, and package modeset builds a double-buffered,
// page-flip driven atomic output loop on top of them.
package drm
