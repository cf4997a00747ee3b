package common

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

// Error kinds returned by the backend. Callers match them with errors.Is, the concrete errors carry
// the failing call and the vulkan result code as context.
var (
	ErrResourceCreation = errors.New("resource creation failed")
	ErrAllocation       = errors.New("device memory allocation failed")
	ErrAlreadyAllocated = errors.New("buffer already allocated")
	ErrNotAllocated     = errors.New("buffer not allocated")
	ErrAlreadyMapped    = errors.New("buffer memory already mapped")
	ErrRange            = errors.New("range out of bounds")
	ErrAcquire          = errors.New("could not acquire an image")
	ErrPresent          = errors.New("could not present to queue")
	ErrSubmit           = errors.New("could not submit queue")
	ErrUnsupportedMode  = errors.New("unsupported present mode")
	ErrNoSuitableDevice = errors.New("no suitable physical device (GPU) found")
)

// NewResultError wraps kind with msg and the vulkan result that caused it. A successful result yields nil.
func NewResultError(kind error, ret vk.Result, msg string) error {
	if ret == vk.Success {
		return nil
	}
	return errors.Wrapf(kind, "%s: %v (%d)", msg, vk.Error(ret), ret)
}

// wrapCall attaches kind and msg to an error coming out of a VkAPI call.
func wrapCall(kind error, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(kind, "%s: %v", msg, err)
}
