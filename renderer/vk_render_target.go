package renderer

import (
	"math"

	com "GPU_render_core/common"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

// maxSurfaceRetries bounds how often an out of date surface is recreated within one acquire or render call.
const maxSurfaceRetries = 1

type targetState int

const (
	stateUninitialized targetState = iota
	stateCreated
	stateDestroyed
)

// RenderTarget owns the swap chain of the device surface, its image views and the per frame attachments drawn
// into: an optional multisampled backbuffer and a depth buffer. Recreation keeps the RenderTarget itself and
// replaces every handle it owns.
type RenderTarget struct {
	dev        *com.Device
	ring       *FrameRing
	state      targetState
	generation uint64

	targetPresentMode com.PresentMode
	presentMode       vk.PresentMode
	format            vk.SurfaceFormat
	extent            vk.Extent2D
	swapchain         vk.Swapchain
	images            []vk.Image
	views             []vk.ImageView

	requestedSamples com.MsaaSamples
	samples          vk.SampleCountFlagBits
	depthFormat      vk.Format
	backbuffer       *FrameResource[*com.Image]
	depth            *FrameResource[*com.Image]
}

// NewRenderTarget creates the swap chain for the surface of dev. Per frame attachments live on ring.
func NewRenderTarget(dev *com.Device, ring *FrameRing, presentMode com.PresentMode, msaa com.MsaaSamples) (*RenderTarget, error) {
	if _, err := presentMode.ToVulkan(); err != nil {
		return nil, err
	}
	if msaa == 0 {
		msaa = com.Msaa1
	}
	rt := &RenderTarget{
		dev:               dev,
		ring:              ring,
		targetPresentMode: presentMode,
		requestedSamples:  msaa,
		depthFormat:       DEPTH_FORMAT,
	}
	if err := rt.create(); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *RenderTarget) create() error {
	scDetails, err := rt.dev.SwapChainSupportDetails()
	if err != nil {
		return errors.Wrapf(com.ErrResourceCreation, "read swap chain support: %v", err)
	}
	format, err := ChooseSwapChainFormat(scDetails.Formats)
	if err != nil {
		return err
	}
	targetMode, err := rt.targetPresentMode.ToVulkan()
	if err != nil {
		return err
	}
	presentMode := ChooseSwapChainPresentMode(targetMode, scDetails.PresentModes)
	extent := ChooseSwapExtent(scDetails.Capabilities, rt.dev.Window())
	imgCount := ChooseImageCount(scDetails.Capabilities)

	// Images are rendered on the graphics queue and handed to the present queue
	sharingMode := vk.SharingModeExclusive
	var qFamIndices []uint32
	if rt.dev.QFamilies.Graphics() != rt.dev.QFamilies.Present() {
		sharingMode = vk.SharingModeConcurrent
		qFamIndices = []uint32{rt.dev.QFamilies.Graphics(), rt.dev.QFamilies.Present()}
	}
	createInfo := &vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		PNext:                 nil,
		Flags:                 0,
		Surface:               rt.dev.Surface,
		MinImageCount:         imgCount,
		ImageFormat:           format.Format,
		ImageColorSpace:       format.ColorSpace,
		ImageExtent:           extent,
		ImageArrayLayers:      1,
		ImageUsage:            vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode:      sharingMode,
		QueueFamilyIndexCount: uint32(len(qFamIndices)),
		PQueueFamilyIndices:   qFamIndices,
		PreTransform:          scDetails.Capabilities.CurrentTransform,
		CompositeAlpha:        vk.CompositeAlphaOpaqueBit,
		PresentMode:           presentMode,
		Clipped:               vk.True,
		OldSwapchain:          nil,
	}
	swapchain, err := rt.dev.API.CreateSwapchain(rt.dev.Device, createInfo)
	if err != nil {
		return errors.Wrapf(com.ErrResourceCreation, "create swap chain: %v", err)
	}
	images, err := rt.dev.API.GetSwapchainImages(rt.dev.Device, swapchain)
	if err != nil {
		rt.dev.API.DestroySwapchain(rt.dev.Device, swapchain)
		return errors.Wrapf(com.ErrResourceCreation, "read swap chain images: %v", err)
	}
	views := make([]vk.ImageView, 0, len(images))
	for i := range images {
		view, err := com.CreateImageView(rt.dev, images[i], format.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			for _, v := range views {
				rt.dev.API.DestroyImageView(rt.dev.Device, v)
			}
			rt.dev.API.DestroySwapchain(rt.dev.Device, swapchain)
			return err
		}
		views = append(views, view)
	}

	rt.swapchain, rt.images, rt.views = swapchain, images, views
	rt.format, rt.presentMode, rt.extent = format, presentMode, extent
	rt.state = stateCreated
	rt.generation++
	com.Logger().Info("Created swap chain",
		"images", len(images), "extent", [2]uint32{extent.Width, extent.Height},
		"format", format.Format, "presentMode", presentMode)

	rt.samples = rt.clampSamples()
	if err := rt.createAttachments(); err != nil {
		rt.destroy()
		return err
	}
	return nil
}

func (rt *RenderTarget) clampSamples() vk.SampleCountFlagBits {
	requested := uint32(rt.requestedSamples)
	maxSamples := rt.dev.MaxUsableSampleCount()
	if requested > maxSamples {
		com.Logger().Warn("Requested MSAA sample count not supported, clamping", "requested", requested, "max", maxSamples)
		requested = maxSamples
	}
	return com.MsaaSamples(requested).ToVulkan()
}

// createAttachments registers the backbuffer and depth resources on the ring, once, and builds them for every
// slot so lookups during recording cannot fail. The factories read the current extent and format.
func (rt *RenderTarget) createAttachments() error {
	if rt.samples > vk.SampleCount1Bit && rt.backbuffer == nil {
		rt.backbuffer = AllocateResource(rt.ring, func(uint32) (*com.Image, error) {
			return com.NewImage(rt.dev, com.ImageSpec{
				Format:  rt.format.Format,
				Usage:   vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransientAttachmentBit),
				Extent:  rt.extent,
				Samples: rt.samples,
				Aspect:  vk.ImageAspectFlags(vk.ImageAspectColorBit),
			})
		}, (*com.Image).Destroy)
	} else if rt.samples == vk.SampleCount1Bit && rt.backbuffer != nil {
		rt.backbuffer.Free()
		rt.backbuffer = nil
	}
	if rt.depth == nil {
		rt.depth = AllocateResource(rt.ring, func(uint32) (*com.Image, error) {
			return com.NewImage(rt.dev, com.ImageSpec{
				Format:  rt.depthFormat,
				Usage:   vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
				Extent:  rt.extent,
				Samples: rt.samples,
				Aspect:  vk.ImageAspectFlags(vk.ImageAspectDepthBit),
			})
		}, (*com.Image).Destroy)
	}

	for slot := uint32(0); slot < rt.ring.Size(); slot++ {
		if rt.backbuffer != nil {
			if _, err := rt.backbuffer.Get(slot); err != nil {
				return err
			}
		}
		if _, err := rt.depth.Get(slot); err != nil {
			return err
		}
	}
	return nil
}

// destroy releases views before the swap chain they reference, and the per frame attachments.
func (rt *RenderTarget) destroy() {
	if rt.state != stateCreated {
		return
	}
	for i := range rt.views {
		rt.dev.API.DestroyImageView(rt.dev.Device, rt.views[i])
	}
	rt.views = nil
	if rt.backbuffer != nil {
		rt.backbuffer.Clear()
	}
	if rt.depth != nil {
		rt.depth.Clear()
	}
	rt.dev.API.DestroySwapchain(rt.dev.Device, rt.swapchain)
	rt.swapchain = nil
	rt.images = nil
	rt.state = stateDestroyed
}

// Recreate waits for the device to be idle and rebuilds every owned handle against the current surface.
func (rt *RenderTarget) Recreate() error {
	if err := rt.dev.WaitIdle(); err != nil {
		return err
	}
	com.Logger().Info("Recreating swap chain")
	rt.destroy()
	return rt.create()
}

// ResizeIfChanged recreates the target when the extent derived from the surface differs from the active one,
// or when an earlier recreation failed and left no swap chain behind.
func (rt *RenderTarget) ResizeIfChanged() error {
	if rt.state != stateCreated {
		return rt.Recreate()
	}
	caps, err := rt.dev.API.GetSurfaceCapabilities(rt.dev.PhysicalDevice, rt.dev.Surface)
	if err != nil {
		return errors.Wrapf(com.ErrResourceCreation, "read surface capabilities: %v", err)
	}
	extent := ChooseSwapExtent(caps, rt.dev.Window())
	if extent.Width == rt.extent.Width && extent.Height == rt.extent.Height {
		return nil
	}
	return rt.Recreate()
}

// AcquireNextImage blocks until the next presentable image is available and returns its index. signal and
// fence may be nil. An out of date surface is recreated and acquisition retried, at most maxSurfaceRetries times.
func (rt *RenderTarget) AcquireNextImage(signal vk.Semaphore, fence vk.Fence) (uint32, error) {
	if rt.state != stateCreated {
		if err := rt.Recreate(); err != nil {
			return 0, errors.Wrapf(com.ErrAcquire, "no swap chain to acquire from: %v", err)
		}
	}
	for attempt := 0; ; attempt++ {
		imgIdx, ret := rt.dev.API.AcquireNextImage(rt.dev.Device, rt.swapchain, math.MaxUint64, signal, fence)
		switch ret {
		case vk.Success, vk.Suboptimal:
			return imgIdx, nil
		case vk.ErrorOutOfDate:
			if attempt >= maxSurfaceRetries {
				return 0, com.NewResultError(com.ErrAcquire, ret, "surface out of date after recreation")
			}
			if err := rt.Recreate(); err != nil {
				return 0, err
			}
		default:
			return 0, com.NewResultError(com.ErrAcquire, ret, "acquire next image")
		}
	}
}

// RenderImage returns the image drawing targets: the backbuffer of the frame when multisampling, the acquired
// swap chain image otherwise.
func (rt *RenderTarget) RenderImage(acquired uint32, frameIndex uint32) (vk.Image, error) {
	if rt.backbuffer != nil {
		img, err := rt.backbuffer.Get(frameIndex)
		if err != nil {
			return nil, err
		}
		return img.Handle, nil
	}
	return rt.PresentImage(acquired)
}

// RenderImageView is the view of RenderImage.
func (rt *RenderTarget) RenderImageView(acquired uint32, frameIndex uint32) (vk.ImageView, error) {
	if rt.backbuffer != nil {
		img, err := rt.backbuffer.Get(frameIndex)
		if err != nil {
			return nil, err
		}
		return img.View, nil
	}
	return rt.PresentImageView(acquired)
}

// PresentImage always returns the acquired swap chain image.
func (rt *RenderTarget) PresentImage(acquired uint32) (vk.Image, error) {
	if int(acquired) >= len(rt.images) {
		return nil, errors.Wrapf(com.ErrRange, "image index %d of %d", acquired, len(rt.images))
	}
	return rt.images[acquired], nil
}

func (rt *RenderTarget) PresentImageView(acquired uint32) (vk.ImageView, error) {
	if int(acquired) >= len(rt.views) {
		return nil, errors.Wrapf(com.ErrRange, "image view index %d of %d", acquired, len(rt.views))
	}
	return rt.views[acquired], nil
}

func (rt *RenderTarget) DepthImageView(frameIndex uint32) (vk.ImageView, error) {
	img, err := rt.depth.Get(frameIndex)
	if err != nil {
		return nil, err
	}
	return img.View, nil
}

// SetTargetPresentMode stores the new intent and recreates the swap chain with it.
func (rt *RenderTarget) SetTargetPresentMode(mode com.PresentMode) error {
	if _, err := mode.ToVulkan(); err != nil {
		return err
	}
	rt.targetPresentMode = mode
	if rt.state != stateCreated {
		return nil
	}
	return rt.Recreate()
}

func (rt *RenderTarget) TargetPresentMode() com.PresentMode {
	return rt.targetPresentMode
}

// CurrentPresentMode translates the present mode the surface granted.
func (rt *RenderTarget) CurrentPresentMode() (com.PresentMode, error) {
	return com.PresentModeFromVulkan(rt.presentMode)
}

func (rt *RenderTarget) Format() vk.Format { return rt.format.Format }
func (rt *RenderTarget) ColorSpace() vk.ColorSpace { return rt.format.ColorSpace }
func (rt *RenderTarget) Extent() vk.Extent2D { return rt.extent }
func (rt *RenderTarget) Swapchain() vk.Swapchain { return rt.swapchain }
func (rt *RenderTarget) Images() []vk.Image { return rt.images }
func (rt *RenderTarget) ImageViews() []vk.ImageView { return rt.views }
func (rt *RenderTarget) Samples() vk.SampleCountFlagBits { return rt.samples }
func (rt *RenderTarget) DepthFormat() vk.Format { return rt.depthFormat }
func (rt *RenderTarget) HasBackbuffer() bool { return rt.backbuffer != nil }

// Generation changes every time the swap chain and attachments are created anew. Objects built on top of the
// image views compare it to know when they are stale, handle values may be reused by the driver.
func (rt *RenderTarget) Generation() uint64 { return rt.generation }

// Destroy releases everything the target owns and detaches its attachments from the frame ring.
func (rt *RenderTarget) Destroy() {
	rt.destroy()
	if rt.backbuffer != nil {
		rt.backbuffer.Free()
		rt.backbuffer = nil
	}
	if rt.depth != nil {
		rt.depth.Free()
		rt.depth = nil
	}
}
