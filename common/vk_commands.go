package common

import (
	"math"

	vk "github.com/goki/vulkan"
)

// One-shot command sequences recorded into transient command buffers and submitted to the graphics queue.

type pendingCommands struct {
	buffer vk.CommandBuffer
	fence  vk.Fence
}

// BeginSingleTimeCommands allocates a transient command buffer and begins recording for a single submission.
// Finished fire-and-forget sequences are reclaimed first.
func (dc *Device) BeginSingleTimeCommands() (vk.CommandBuffer, error) {
	dc.reclaimCommands(false)

	buffers, err := dc.API.AllocateCommandBuffers(dc.Device, dc.transientPool, 1)
	if err != nil {
		return nil, wrapCall(ErrResourceCreation, err, "allocate one-shot command buffer")
	}
	cmdBuf := buffers[0]
	if err := dc.API.BeginCommandBuffer(cmdBuf, vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)); err != nil {
		dc.API.FreeCommandBuffers(dc.Device, dc.transientPool, buffers)
		return nil, wrapCall(ErrSubmit, err, "begin one-shot command buffer")
	}
	return cmdBuf, nil
}

// EndSingleTimeCommands ends and submits cmdBuf to the graphics queue. With wait the call blocks until the
// commands completed, otherwise the buffer is released lazily once its fence signaled.
func (dc *Device) EndSingleTimeCommands(cmdBuf vk.CommandBuffer, wait bool) error {
	release := func() {
		dc.API.FreeCommandBuffers(dc.Device, dc.transientPool, []vk.CommandBuffer{cmdBuf})
	}
	if err := dc.API.EndCommandBuffer(cmdBuf); err != nil {
		release()
		return wrapCall(ErrSubmit, err, "end one-shot command buffer")
	}

	fence, err := dc.API.CreateFence(dc.Device, false)
	if err != nil {
		release()
		return wrapCall(ErrResourceCreation, err, "create one-shot fence")
	}
	submitInfo := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmdBuf},
	}}
	if err := dc.API.QueueSubmit(dc.GraphicsQ, submitInfo, fence); err != nil {
		dc.API.DestroyFence(dc.Device, fence)
		release()
		return wrapCall(ErrSubmit, err, "submit one-shot command buffer")
	}

	if !wait {
		dc.pending = append(dc.pending, pendingCommands{buffer: cmdBuf, fence: fence})
		return nil
	}
	defer func() {
		dc.API.DestroyFence(dc.Device, fence)
		release()
	}()
	if err := dc.API.WaitForFences(dc.Device, []vk.Fence{fence}, true, math.MaxUint64); err != nil {
		return wrapCall(ErrSubmit, err, "wait for one-shot fence")
	}
	return nil
}

// reclaimCommands frees pending one-shot sequences whose fence signaled. With all set every pending sequence is
// released, which is only valid once the device is idle.
func (dc *Device) reclaimCommands(all bool) {
	kept := dc.pending[:0]
	for _, p := range dc.pending {
		if !all && dc.API.GetFenceStatus(dc.Device, p.fence) != vk.Success {
			kept = append(kept, p)
			continue
		}
		dc.API.DestroyFence(dc.Device, p.fence)
		dc.API.FreeCommandBuffers(dc.Device, dc.transientPool, []vk.CommandBuffer{p.buffer})
	}
	dc.pending = kept
}
