package renderer

import (
	com "GPU_render_core/common"

	vk "github.com/goki/vulkan"
)

// Frame is the synchronization state of one in-flight slot. The command buffer may only be reset once InFlight
// signaled.
type Frame struct {
	ImageAvailable vk.Semaphore
	RenderFinished vk.Semaphore
	InFlight       vk.Fence
	CommandBuffer  vk.CommandBuffer
}

func (f *Frame) createSyncObjects(dev *com.Device) error {
	var err error
	if f.ImageAvailable, err = dev.API.CreateSemaphore(dev.Device); err != nil {
		return err
	}
	if f.RenderFinished, err = dev.API.CreateSemaphore(dev.Device); err != nil {
		return err
	}
	// Created signaled, the very first wait on a slot must not block
	if f.InFlight, err = dev.API.CreateFence(dev.Device, true); err != nil {
		return err
	}
	return nil
}

func (f *Frame) destroySyncObjects(dev *com.Device) {
	if f.ImageAvailable != nil {
		dev.API.DestroySemaphore(dev.Device, f.ImageAvailable)
		f.ImageAvailable = nil
	}
	if f.RenderFinished != nil {
		dev.API.DestroySemaphore(dev.Device, f.RenderFinished)
		f.RenderFinished = nil
	}
	if f.InFlight != nil {
		dev.API.DestroyFence(dev.Device, f.InFlight)
		f.InFlight = nil
	}
}
