package renderer

import (
	com "GPU_render_core/common"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

// FrameRing holds the resources of N frames in flight. Slot i is used by every frame index congruent to i mod N.
type FrameRing struct {
	dev         *com.Device
	commandPool vk.CommandPool
	frames      []Frame
	resources   []frameResource
}

type frameResource interface {
	Clear()
}

// NewFrameRing creates n slots, each with its own semaphores, a signaled fence and a primary command buffer.
func NewFrameRing(dev *com.Device, n uint32) (*FrameRing, error) {
	if n == 0 {
		return nil, errors.Wrap(com.ErrResourceCreation, "frame ring needs at least one slot")
	}
	ring := &FrameRing{dev: dev}
	var err error
	ring.commandPool, err = dev.API.CreateCommandPool(
		dev.Device,
		vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		dev.QFamilies.Graphics(),
	)
	if err != nil {
		return nil, errors.Wrapf(com.ErrResourceCreation, "create frame command pool: %v", err)
	}
	cmdBuffers, err := dev.API.AllocateCommandBuffers(dev.Device, ring.commandPool, n)
	if err != nil {
		ring.Destroy()
		return nil, errors.Wrapf(com.ErrResourceCreation, "allocate %d frame command buffers: %v", n, err)
	}

	ring.frames = make([]Frame, len(cmdBuffers))
	for i := range ring.frames {
		ring.frames[i].CommandBuffer = cmdBuffers[i]
	}
	for i := range ring.frames {
		if err := ring.frames[i].createSyncObjects(dev); err != nil {
			ring.Destroy()
			return nil, errors.Wrapf(com.ErrResourceCreation, "create sync objects of frame %d: %v", i, err)
		}
	}
	com.Logger().Debug("Created frame ring", "frames", n)
	return ring, nil
}

// Size is the number of frames in flight.
func (ring *FrameRing) Size() uint32 {
	return uint32(len(ring.frames))
}

// Frame returns the slot used by frameIndex.
func (ring *FrameRing) Frame(frameIndex uint32) *Frame {
	return &ring.frames[frameIndex%ring.Size()]
}

// Destroy clears every resource allocated on the ring before the sync objects, command buffers and pool.
// The device must be idle.
func (ring *FrameRing) Destroy() {
	for _, r := range ring.resources {
		r.Clear()
	}
	ring.resources = nil

	cmdBuffers := make([]vk.CommandBuffer, 0, len(ring.frames))
	for i := range ring.frames {
		ring.frames[i].destroySyncObjects(ring.dev)
		if ring.frames[i].CommandBuffer != nil {
			cmdBuffers = append(cmdBuffers, ring.frames[i].CommandBuffer)
		}
	}
	ring.frames = nil
	if ring.commandPool == nil {
		return
	}
	if len(cmdBuffers) > 0 {
		ring.dev.API.FreeCommandBuffers(ring.dev.Device, ring.commandPool, cmdBuffers)
	}
	ring.dev.API.DestroyCommandPool(ring.dev.Device, ring.commandPool)
	ring.commandPool = nil
}

func (ring *FrameRing) detach(r frameResource) {
	for i := range ring.resources {
		if ring.resources[i] == r {
			ring.resources = append(ring.resources[:i], ring.resources[i+1:]...)
			return
		}
	}
}

// FrameResource holds one lazily built instance of T per slot of a FrameRing.
type FrameResource[T any] struct {
	ring      *FrameRing
	factory   func(slot uint32) (T, error)
	release   func(T)
	instances []T
	built     []bool
}

// AllocateResource registers a per slot resource on ring. factory builds the instance of a slot on first use,
// release destroys it again on Clear. release may be nil.
func AllocateResource[T any](ring *FrameRing, factory func(slot uint32) (T, error), release func(T)) *FrameResource[T] {
	r := &FrameResource[T]{
		ring:      ring,
		factory:   factory,
		release:   release,
		instances: make([]T, ring.Size()),
		built:     make([]bool, ring.Size()),
	}
	ring.resources = append(ring.resources, r)
	return r
}

// Get returns the instance of the slot used by frameIndex, building it if needed.
func (r *FrameResource[T]) Get(frameIndex uint32) (T, error) {
	slot := frameIndex % uint32(len(r.instances))
	if !r.built[slot] {
		v, err := r.factory(slot)
		if err != nil {
			var zero T
			return zero, err
		}
		r.instances[slot], r.built[slot] = v, true
	}
	return r.instances[slot], nil
}

// Clear releases every built instance. The next Get builds again.
func (r *FrameResource[T]) Clear() {
	var zero T
	for i := range r.instances {
		if r.built[i] && r.release != nil {
			r.release(r.instances[i])
		}
		r.instances[i], r.built[i] = zero, false
	}
}

// Free clears the resource and removes it from its ring.
func (r *FrameResource[T]) Free() {
	r.Clear()
	r.ring.detach(r)
}
