package renderer

import (
	"math"

	com "GPU_render_core/common"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

const MAX_FRAMES_IN_FLIGHT = 2

var errSurfaceOutOfDate = errors.New("surface out of date")

// CreateInfo collects what a caller wants from a Renderer. Zero values select the defaults.
type CreateInfo struct {
	TargetPresentMode com.PresentMode
	MsaaSamples       com.MsaaSamples
	FramesInFlight    uint32
}

func (ci CreateInfo) withDefaults() CreateInfo {
	if ci.FramesInFlight == 0 {
		ci.FramesInFlight = MAX_FRAMES_IN_FLIGHT
	}
	if ci.MsaaSamples == 0 {
		ci.MsaaSamples = com.Msaa1
	}
	return ci
}

// RecordInfo is handed to the recording callback. The command buffer is already reset and begun.
type RecordInfo struct {
	CommandBuffer    vk.CommandBuffer
	ImageIndex       uint32
	FrameIndex       uint32
	RenderImage      vk.Image
	RenderImageView  vk.ImageView
	PresentImage     vk.Image
	PresentImageView vk.ImageView
	DepthImageView   vk.ImageView
	Extent           vk.Extent2D
	Format           vk.Format
	Samples          vk.SampleCountFlagBits
}

// RecordFunc fills the command buffer of a frame.
type RecordFunc func(info RecordInfo) error

// Renderer drives the frame loop: wait, acquire, record, submit, present. It owns the frame ring and the
// render target, the Device is owned by the caller and must outlive the Renderer.
type Renderer struct {
	dev          *com.Device
	ring         *FrameRing
	target       *RenderTarget
	currentFrame uint32
}

func NewRenderer(dev *com.Device, info CreateInfo) (*Renderer, error) {
	info = info.withDefaults()
	ring, err := NewFrameRing(dev, info.FramesInFlight)
	if err != nil {
		return nil, err
	}
	target, err := NewRenderTarget(dev, ring, info.TargetPresentMode, info.MsaaSamples)
	if err != nil {
		ring.Destroy()
		return nil, err
	}
	return &Renderer{
		dev:    dev,
		ring:   ring,
		target: target,
	}, nil
}

// Render produces one frame. An out of date surface at presentation recreates the render target and renders the
// frame again on the same slot, at most maxSurfaceRetries times.
func (r *Renderer) Render(record RecordFunc) error {
	for attempt := 0; ; attempt++ {
		err := r.renderFrame(record)
		if !errors.Is(err, errSurfaceOutOfDate) {
			return err
		}
		if attempt >= maxSurfaceRetries {
			return com.NewResultError(com.ErrPresent, vk.ErrorOutOfDate, "surface out of date after recreation")
		}
		if err := r.target.Recreate(); err != nil {
			return err
		}
	}
}

func (r *Renderer) renderFrame(record RecordFunc) error {
	if err := r.target.ResizeIfChanged(); err != nil {
		return err
	}

	// Wait for the previous use of this slot to finish before touching any of its resources
	frame := r.ring.Frame(r.currentFrame)
	if err := r.dev.API.WaitForFences(r.dev.Device, []vk.Fence{frame.InFlight}, true, math.MaxUint64); err != nil {
		return errors.Wrapf(com.ErrSubmit, "wait for in-flight fence: %v", err)
	}

	imgIdx, err := r.target.AcquireNextImage(frame.ImageAvailable, nil)
	if err != nil {
		return err
	}

	// Only reset the fence once work that signals it is certain to be submitted
	if err := r.dev.API.ResetFences(r.dev.Device, []vk.Fence{frame.InFlight}); err != nil {
		return errors.Wrapf(com.ErrSubmit, "reset in-flight fence: %v", err)
	}

	if err := r.recordFrame(frame, imgIdx, record); err != nil {
		if relErr := r.releaseFrame(frame); relErr != nil {
			com.Logger().Error("Failed to release frame after recording error", "err", relErr)
		}
		// The acquired image cannot be presented with undefined contents, recreating returns it to the swap chain
		if recErr := r.target.Recreate(); recErr != nil {
			com.Logger().Error("Failed to recreate render target after recording error", "err", recErr)
		}
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		PNext:              nil,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{frame.ImageAvailable},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{frame.CommandBuffer},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{frame.RenderFinished},
	}
	if err := r.dev.API.QueueSubmit(r.dev.GraphicsQ, []vk.SubmitInfo{submitInfo}, frame.InFlight); err != nil {
		return errors.Wrapf(com.ErrSubmit, "submit frame %d: %v", r.currentFrame, err)
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		PNext:              nil,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{frame.RenderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{r.target.Swapchain()},
		PImageIndices:      []uint32{imgIdx},
		PResults:           nil,
	}
	switch ret := r.dev.API.QueuePresent(r.dev.PresentQ, &presentInfo); ret {
	case vk.Success:
	case vk.Suboptimal:
		// Presented, the next frame uses a matching swap chain
		if err := r.target.Recreate(); err != nil {
			return err
		}
	case vk.ErrorOutOfDate:
		return errSurfaceOutOfDate
	default:
		return com.NewResultError(com.ErrPresent, ret, "present frame")
	}

	r.currentFrame = (r.currentFrame + 1) % r.ring.Size()
	return nil
}

func (r *Renderer) recordFrame(frame *Frame, imgIdx uint32, record RecordFunc) error {
	info := RecordInfo{
		CommandBuffer: frame.CommandBuffer,
		ImageIndex:    imgIdx,
		FrameIndex:    r.currentFrame,
		Extent:        r.target.Extent(),
		Format:        r.target.Format(),
		Samples:       r.target.Samples(),
	}
	var err error
	if info.RenderImage, err = r.target.RenderImage(imgIdx, r.currentFrame); err != nil {
		return err
	}
	if info.RenderImageView, err = r.target.RenderImageView(imgIdx, r.currentFrame); err != nil {
		return err
	}
	if info.PresentImage, err = r.target.PresentImage(imgIdx); err != nil {
		return err
	}
	if info.PresentImageView, err = r.target.PresentImageView(imgIdx); err != nil {
		return err
	}
	if info.DepthImageView, err = r.target.DepthImageView(r.currentFrame); err != nil {
		return err
	}

	if err := r.dev.API.ResetCommandBuffer(frame.CommandBuffer); err != nil {
		return errors.Wrapf(com.ErrSubmit, "reset command buffer: %v", err)
	}
	if err := r.dev.API.BeginCommandBuffer(frame.CommandBuffer, 0); err != nil {
		return errors.Wrapf(com.ErrSubmit, "begin command buffer: %v", err)
	}
	if record != nil {
		if err := record(info); err != nil {
			return errors.Wrap(err, "record frame")
		}
	}
	if err := r.dev.API.EndCommandBuffer(frame.CommandBuffer); err != nil {
		return errors.Wrapf(com.ErrSubmit, "end command buffer: %v", err)
	}
	return nil
}

// releaseFrame submits no work but consumes the image available semaphore and signals the in-flight fence, so
// the slot stays usable after a failed recording. The acquired image itself is only returned by recreating the
// render target.
func (r *Renderer) releaseFrame(frame *Frame) error {
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{frame.ImageAvailable},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
	}
	return r.dev.API.QueueSubmit(r.dev.GraphicsQ, []vk.SubmitInfo{submitInfo}, frame.InFlight)
}

// CreateBuffer creates a RawBuffer on the renderer's device. Memory is bound by RawBuffer.Alloc.
func (r *Renderer) CreateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlags) (*com.RawBuffer, error) {
	return com.NewRawBuffer(r.dev, size, usage)
}

// WaitForIdle must be called before destroying any resource an in-flight frame may still reference.
func (r *Renderer) WaitForIdle() error {
	return r.dev.WaitIdle()
}

func (r *Renderer) CurrentFrame() uint32 {
	return r.currentFrame
}

func (r *Renderer) FramesInFlight() uint32 {
	return r.ring.Size()
}

func (r *Renderer) FrameRing() *FrameRing {
	return r.ring
}

func (r *Renderer) RenderTarget() *RenderTarget {
	return r.target
}

func (r *Renderer) Device() *com.Device {
	return r.dev
}

func (r *Renderer) CurrentPresentMode() (com.PresentMode, error) {
	return r.target.CurrentPresentMode()
}

// Destroy waits for the device, then destroys the render target and the frame ring. The Device stays alive.
func (r *Renderer) Destroy() {
	if err := r.dev.WaitIdle(); err != nil {
		com.Logger().Warn("Device wait idle failed during teardown", "err", err)
	}
	r.target.Destroy()
	r.ring.Destroy()
}
