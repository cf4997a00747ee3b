package renderer

import (
	"bytes"
	"log/slog"
	"math"
	"testing"

	com "GPU_render_core/common"
	"GPU_render_core/internal/vkfake"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTarget(t *testing.T, dev *com.Device, ring *FrameRing, mode com.PresentMode, msaa com.MsaaSamples) *RenderTarget {
	t.Helper()
	rt, err := NewRenderTarget(dev, ring, mode, msaa)
	require.NoError(t, err)
	t.Cleanup(rt.Destroy)
	return rt
}

func TestRenderTargetImageCount(t *testing.T) {
	tests := []struct {
		name     string
		min, max uint32
		want     int
	}{
		{"one above minimum", 2, 4, 3},
		{"capped at maximum", 3, 3, 3},
		{"unbounded maximum", 2, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := vkfake.New()
			f.Caps.MinImageCount, f.Caps.MaxImageCount = tt.min, tt.max
			dev := openTestDevice(t, f)
			ring := newTestRing(t, dev, 2)
			rt := newTestTarget(t, dev, ring, com.PresentModeVSync, com.Msaa1)

			assert.Len(t, rt.Images(), tt.want)
			assert.Len(t, rt.ImageViews(), tt.want)
			// Swap chain views plus one depth view per slot
			assert.Equal(t, tt.want+int(ring.Size()), f.Live("imageView"))
			assert.Equal(t, vk.SharingModeExclusive, f.LastSwapchainInfo.ImageSharingMode)
		})
	}
}

func TestRenderTargetConcurrentSharing(t *testing.T) {
	f := vkfake.New()
	pd := f.PhysicalDevices[0]
	pd.QueueFamilies = []vk.QueueFamilyProperties{
		{QueueFlags: vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueTransferBit), QueueCount: 1},
		{QueueFlags: vk.QueueFlags(vk.QueueComputeBit), QueueCount: 1},
	}
	pd.PresentFamilies = []uint32{1}
	dev := openTestDevice(t, f)
	newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)

	assert.Equal(t, vk.SharingModeConcurrent, f.LastSwapchainInfo.ImageSharingMode)
	assert.Equal(t, []uint32{0, 1}, f.LastSwapchainInfo.PQueueFamilyIndices)
}

func TestRenderTargetSingleSample(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)

	assert.False(t, rt.HasBackbuffer())
	assert.Equal(t, vk.SampleCount1Bit, rt.Samples())
	// One depth image per slot, nothing else
	assert.Equal(t, 2, f.Live("image"))
	assert.Equal(t, DEPTH_FORMAT, f.LastImageInfo.Format)
	assert.Equal(t, DEPTH_FORMAT, rt.DepthFormat())

	renderImg, err := rt.RenderImage(1, 0)
	require.NoError(t, err)
	presentImg, err := rt.PresentImage(1)
	require.NoError(t, err)
	assert.True(t, renderImg == presentImg)

	renderView, err := rt.RenderImageView(2, 1)
	require.NoError(t, err)
	presentView, err := rt.PresentImageView(2)
	require.NoError(t, err)
	assert.True(t, renderView == presentView)

	_, err = rt.PresentImage(3)
	assert.True(t, errors.Is(err, com.ErrRange))
	_, err = rt.PresentImageView(3)
	assert.True(t, errors.Is(err, com.ErrRange))

	depth0, err := rt.DepthImageView(0)
	require.NoError(t, err)
	depth1, err := rt.DepthImageView(1)
	require.NoError(t, err)
	depth2, err := rt.DepthImageView(2)
	require.NoError(t, err)
	assert.True(t, depth0 != depth1)
	assert.True(t, depth0 == depth2)
}

func TestRenderTargetMsaaClamp(t *testing.T) {
	var logs bytes.Buffer
	com.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { com.SetLogger(nil) })

	f := vkfake.New()
	f.PhysicalDevices = []*vkfake.PhysicalDevice{
		vkfake.NewPhysicalDevice("four samples", vk.PhysicalDeviceTypeDiscreteGpu, vk.SampleCount4Bit),
	}
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa16)

	assert.Equal(t, vk.SampleCount4Bit, rt.Samples())
	assert.True(t, rt.HasBackbuffer())
	assert.Contains(t, logs.String(), "Requested MSAA sample count not supported, clamping")
	assert.Contains(t, logs.String(), "Created swap chain")

	// A backbuffer and a depth image per slot, both multisampled
	assert.Equal(t, 4, f.Live("image"))
	assert.Equal(t, 4, f.Live("memory"))
	assert.Equal(t, vk.SampleCount4Bit, f.LastImageInfo.Samples)

	renderImg, err := rt.RenderImage(0, 0)
	require.NoError(t, err)
	presentImg, err := rt.PresentImage(0)
	require.NoError(t, err)
	assert.True(t, renderImg != presentImg)
	sameSlot, err := rt.RenderImage(1, 2)
	require.NoError(t, err)
	assert.True(t, renderImg == sameSlot, "frames 0 and 2 share a backbuffer")

	// Recreation rebuilds the attachments without leaking the old ones
	require.NoError(t, rt.Recreate())
	assert.Equal(t, 4, f.Live("image"))
	assert.Equal(t, 4, f.Live("memory"))
}

func TestRenderTargetSupportedMsaa(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 3), com.PresentModeVSync, com.Msaa2)

	assert.Equal(t, vk.SampleCount2Bit, rt.Samples())
	assert.True(t, rt.HasBackbuffer())
	assert.Equal(t, 6, f.Live("image"))
}

func TestRenderTargetPresentModes(t *testing.T) {
	tests := []struct {
		name    string
		target  com.PresentMode
		want    com.PresentMode
		wantRaw vk.PresentMode
	}{
		{"vsync", com.PresentModeVSync, com.PresentModeVSync, vk.PresentModeFifo},
		{"mailbox available", com.PresentModeMailbox, com.PresentModeMailbox, vk.PresentModeMailbox},
		{"immediate falls back to fifo", com.PresentModeImmediate, com.PresentModeVSync, vk.PresentModeFifo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := vkfake.New()
			dev := openTestDevice(t, f)
			rt := newTestTarget(t, dev, newTestRing(t, dev, 2), tt.target, com.Msaa1)

			got, err := rt.CurrentPresentMode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.target, rt.TargetPresentMode())
			assert.Equal(t, tt.wantRaw, f.LastSwapchainInfo.PresentMode)
		})
	}
}

func TestRenderTargetUnsupportedPresentMode(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	ring := newTestRing(t, dev, 2)

	_, err := NewRenderTarget(dev, ring, com.PresentModeUnsupported, com.Msaa1)
	assert.True(t, errors.Is(err, com.ErrUnsupportedMode))
	assert.Equal(t, 0, f.SwapchainCreates)
}

func TestRenderTargetSetPresentMode(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)

	require.NoError(t, rt.SetTargetPresentMode(com.PresentModeMailbox))
	assert.Equal(t, 2, f.SwapchainCreates)
	assert.Equal(t, 1, f.Live("swapchain"))
	mode, err := rt.CurrentPresentMode()
	require.NoError(t, err)
	assert.Equal(t, com.PresentModeMailbox, mode)

	err = rt.SetTargetPresentMode(com.PresentModeUnsupported)
	assert.True(t, errors.Is(err, com.ErrUnsupportedMode))
	assert.Equal(t, com.PresentModeMailbox, rt.TargetPresentMode())
	assert.Equal(t, 2, f.SwapchainCreates)
}

func TestRenderTargetUndefinedExtent(t *testing.T) {
	f := vkfake.New()
	f.Caps.CurrentExtent = vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	dev, err := f.OpenDevice(&vkfake.Window{Width: 5000, Height: -3})
	require.NoError(t, err)
	t.Cleanup(dev.Destroy)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)

	assert.Equal(t, uint32(4096), rt.Extent().Width)
	assert.Equal(t, uint32(1), rt.Extent().Height)
	assert.Equal(t, uint32(4096), f.LastSwapchainInfo.ImageExtent.Width)
}

func TestRenderTargetCreateFailure(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	ring := newTestRing(t, dev, 2)

	f.Fail["CreateSwapchain"] = errors.New("surface lost")
	_, err := NewRenderTarget(dev, ring, com.PresentModeVSync, com.Msaa1)
	assert.True(t, errors.Is(err, com.ErrResourceCreation))

	delete(f.Fail, "CreateSwapchain")
	f.Fail["CreateImage"] = errors.New("out of device memory")
	_, err = NewRenderTarget(dev, ring, com.PresentModeVSync, com.Msaa1)
	assert.Error(t, err)
	assert.Equal(t, 0, f.Live("swapchain"))
	assert.Equal(t, 0, f.Live("imageView"))
}

func TestRenderTargetAcquireRetry(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)
	require.Equal(t, 1, f.SwapchainCreates)

	f.AcquireResults = []vk.Result{vk.ErrorOutOfDate, vk.Success}
	_, err := rt.AcquireNextImage(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.SwapchainCreates)
	assert.Equal(t, 1, f.Live("swapchain"))

	f.AcquireResults = []vk.Result{vk.ErrorOutOfDate, vk.ErrorOutOfDate}
	_, err = rt.AcquireNextImage(nil, nil)
	assert.True(t, errors.Is(err, com.ErrAcquire))
	assert.Equal(t, 3, f.SwapchainCreates, "recreated once before giving up")

	f.AcquireResults = []vk.Result{vk.ErrorDeviceLost}
	_, err = rt.AcquireNextImage(nil, nil)
	assert.True(t, errors.Is(err, com.ErrAcquire))
	assert.Equal(t, 3, f.SwapchainCreates)
}

func TestRenderTargetAcquireSuboptimal(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)

	f.AcquireResults = []vk.Result{vk.Suboptimal}
	idx, err := rt.AcquireNextImage(nil, nil)
	require.NoError(t, err)
	assert.Less(t, int(idx), len(rt.Images()))
	assert.Equal(t, 1, f.SwapchainCreates)
}

func TestRenderTargetAcquireWithoutPresent(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)
	spare := len(rt.Images()) - int(f.Caps.MinImageCount)

	for i := 0; i <= spare; i++ {
		_, err := rt.AcquireNextImage(nil, nil)
		require.NoError(t, err)
	}
	_, err := rt.AcquireNextImage(nil, nil)
	assert.True(t, errors.Is(err, com.ErrAcquire), "every spare image is held")

	require.NoError(t, rt.Recreate())
	_, err = rt.AcquireNextImage(nil, nil)
	assert.NoError(t, err)
}

func TestRenderTargetAcquireAfterFailedRecreate(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)

	f.Fail["CreateSwapchain"] = errors.New("surface lost")
	assert.Error(t, rt.Recreate())
	_, err := rt.AcquireNextImage(nil, nil)
	assert.True(t, errors.Is(err, com.ErrAcquire))
	assert.Equal(t, 0, f.Acquires)

	delete(f.Fail, "CreateSwapchain")
	idx, err := rt.AcquireNextImage(nil, nil)
	require.NoError(t, err)
	assert.Less(t, int(idx), len(rt.Images()))
	assert.Equal(t, 1, f.Live("swapchain"))
	assert.Equal(t, 2, f.SwapchainCreates)
}

func TestRenderTargetGeneration(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)
	gen := rt.Generation()

	require.NoError(t, rt.ResizeIfChanged())
	assert.Equal(t, gen, rt.Generation(), "unchanged extent keeps the swap chain")

	require.NoError(t, rt.Recreate())
	assert.Equal(t, gen+1, rt.Generation())

	require.NoError(t, rt.SetTargetPresentMode(com.PresentModeMailbox))
	assert.Equal(t, gen+2, rt.Generation())

	f.Fail["CreateSwapchain"] = errors.New("surface lost")
	assert.Error(t, rt.Recreate())
	delete(f.Fail, "CreateSwapchain")
	require.NoError(t, rt.ResizeIfChanged())
	assert.Equal(t, gen+3, rt.Generation())
}

func TestRenderTargetResizeIfChanged(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	rt := newTestTarget(t, dev, newTestRing(t, dev, 2), com.PresentModeVSync, com.Msaa1)

	require.NoError(t, rt.ResizeIfChanged())
	assert.Equal(t, 1, f.SwapchainCreates)

	f.Caps.CurrentExtent = vk.Extent2D{Width: 1024, Height: 768}
	require.NoError(t, rt.ResizeIfChanged())
	assert.Equal(t, 2, f.SwapchainCreates)
	assert.Equal(t, uint32(1024), rt.Extent().Width)
	assert.Equal(t, uint32(768), rt.Extent().Height)
	assert.Equal(t, uint32(768), f.LastImageInfo.Extent.Height, "depth follows the new extent")

	require.NoError(t, rt.ResizeIfChanged())
	assert.Equal(t, 2, f.SwapchainCreates)
}

func TestRenderTargetDestroy(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	ring := newTestRing(t, dev, 2)
	rt, err := NewRenderTarget(dev, ring, com.PresentModeVSync, com.Msaa4)
	require.NoError(t, err)

	rt.Destroy()
	assert.Equal(t, 0, f.Live("swapchain"))
	assert.Equal(t, 0, f.Live("swapchainImage"))
	assert.Equal(t, 0, f.Live("imageView"))
	assert.Equal(t, 0, f.Live("image"))
	assert.Equal(t, 0, f.Live("memory"))
	assert.Empty(t, ring.resources)

	rt.Destroy()
	assert.Equal(t, 1, f.SwapchainDestroys)
}
