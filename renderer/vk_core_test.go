package renderer

import (
	"testing"

	com "GPU_render_core/common"
	"GPU_render_core/internal/vkfake"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(t *testing.T, f *vkfake.API, info CreateInfo) *Renderer {
	t.Helper()
	dev := openTestDevice(t, f)
	r, err := NewRenderer(dev, info)
	require.NoError(t, err)
	t.Cleanup(r.Destroy)
	return r
}

func TestNewRendererDefaults(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})

	assert.Equal(t, uint32(MAX_FRAMES_IN_FLIGHT), r.FramesInFlight())
	assert.Equal(t, uint32(0), r.CurrentFrame())
	mode, err := r.CurrentPresentMode()
	require.NoError(t, err)
	assert.Equal(t, com.PresentModeVSync, mode)
	assert.Equal(t, vk.SampleCount1Bit, r.RenderTarget().Samples())
	assert.True(t, r.FrameRing() == r.RenderTarget().ring)
}

func TestNewRendererOptions(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{
		TargetPresentMode: com.PresentModeMailbox,
		MsaaSamples:       com.Msaa4,
		FramesInFlight:    3,
	})

	assert.Equal(t, uint32(3), r.FramesInFlight())
	mode, err := r.CurrentPresentMode()
	require.NoError(t, err)
	assert.Equal(t, com.PresentModeMailbox, mode)
	assert.Equal(t, vk.SampleCount4Bit, r.RenderTarget().Samples())
	assert.Equal(t, 3, f.Live("fence"))
}

func TestNewRendererFailure(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)

	f.Fail["CreateSwapchain"] = errors.New("surface lost")
	_, err := NewRenderer(dev, CreateInfo{})
	assert.True(t, errors.Is(err, com.ErrResourceCreation))
	assert.Equal(t, 0, f.Live("fence"))
	assert.Equal(t, 0, f.Live("semaphore"))
	assert.Equal(t, 1, f.Live("commandPool"), "only the device's transient pool is left")

	_, err = NewRenderer(dev, CreateInfo{TargetPresentMode: com.PresentModeUnsupported})
	assert.True(t, errors.Is(err, com.ErrUnsupportedMode))
}

func TestRenderCyclesFrames(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	ring := r.FrameRing()
	submits, presents := f.Submits, f.Presents

	var infos []RecordInfo
	record := func(info RecordInfo) error {
		infos = append(infos, info)
		return nil
	}
	var frames []uint32
	for i := 0; i < 5; i++ {
		waits := f.FenceWaits[ring.Frame(r.CurrentFrame()).InFlight]
		require.NoError(t, r.Render(record))
		assert.Equal(t, waits+1, f.FenceWaits[ring.Frame(uint32(i)).InFlight], "render %d waits once on its slot", i)
		frames = append(frames, r.CurrentFrame())
	}

	assert.Equal(t, []uint32{1, 0, 1, 0, 1}, frames)
	assert.Equal(t, 3, f.FenceWaits[ring.Frame(0).InFlight])
	assert.Equal(t, 2, f.FenceWaits[ring.Frame(1).InFlight])
	assert.Equal(t, submits+5, f.Submits)
	assert.Equal(t, presents+5, f.Presents)
	require.Len(t, infos, 5)

	images := r.RenderTarget().Images()
	for i, info := range infos {
		slot := uint32(i) % 2
		assert.Equal(t, slot, info.FrameIndex)
		assert.True(t, info.CommandBuffer == ring.Frame(slot).CommandBuffer)
		assert.Equal(t, uint32(i)%uint32(len(images)), info.ImageIndex)
		assert.True(t, info.PresentImage == images[info.ImageIndex])
		assert.True(t, info.RenderImage == info.PresentImage, "single sampled frames draw into the swap chain image")
		assert.True(t, info.RenderImageView == info.PresentImageView)
		assert.NotNil(t, info.DepthImageView)
		assert.Equal(t, uint32(800), info.Extent.Width)
		assert.Equal(t, uint32(600), info.Extent.Height)
		assert.Equal(t, vk.FormatB8g8r8a8Srgb, info.Format)
		assert.Equal(t, vk.SampleCount1Bit, info.Samples)
	}
	assert.True(t, infos[0].DepthImageView != infos[1].DepthImageView)
	assert.True(t, infos[0].DepthImageView == infos[2].DepthImageView)
}

func TestRenderMultisampled(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{MsaaSamples: com.Msaa4})

	var info RecordInfo
	require.NoError(t, r.Render(func(i RecordInfo) error {
		info = i
		return nil
	}))
	assert.True(t, info.RenderImage != info.PresentImage)
	assert.True(t, info.RenderImageView != info.PresentImageView)
	assert.Equal(t, vk.SampleCount4Bit, info.Samples)
}

func TestRenderPresentOutOfDate(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	f.PresentResults = []vk.Result{vk.Success, vk.Success, vk.ErrorOutOfDate}

	calls := 0
	record := func(RecordInfo) error {
		calls++
		return nil
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Render(record))
	}

	assert.Equal(t, 4, calls, "the third frame is recorded again after recreation")
	assert.Equal(t, 2, f.SwapchainCreates)
	assert.Equal(t, 1, f.Live("swapchain"))
	assert.Equal(t, uint32(1), r.CurrentFrame())
	assert.Equal(t, 3, f.FenceWaits[r.FrameRing().Frame(0).InFlight])
}

func TestRenderPresentRetryLimit(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	f.PresentResults = []vk.Result{vk.ErrorOutOfDate, vk.ErrorOutOfDate}

	err := r.Render(nil)
	assert.True(t, errors.Is(err, com.ErrPresent))
	assert.Equal(t, 2, f.SwapchainCreates, "recreated exactly once")
	assert.Equal(t, uint32(0), r.CurrentFrame())

	require.NoError(t, r.Render(nil))
	assert.Equal(t, uint32(1), r.CurrentFrame())
}

func TestRenderPresentSuboptimal(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	f.PresentResults = []vk.Result{vk.Suboptimal}

	require.NoError(t, r.Render(nil))
	assert.Equal(t, 2, f.SwapchainCreates)
	assert.Equal(t, 1, f.Presents)
	assert.Equal(t, uint32(1), r.CurrentFrame())
}

func TestRenderPresentError(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	f.PresentResults = []vk.Result{vk.ErrorDeviceLost}

	err := r.Render(nil)
	assert.True(t, errors.Is(err, com.ErrPresent))
	assert.Equal(t, 1, f.SwapchainCreates)
	assert.Equal(t, uint32(0), r.CurrentFrame())
}

func TestRenderAcquireError(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	f.AcquireResults = []vk.Result{vk.ErrorDeviceLost}

	err := r.Render(nil)
	assert.True(t, errors.Is(err, com.ErrAcquire))
	assert.True(t, f.FenceSignaled(r.FrameRing().Frame(0).InFlight), "fence untouched when nothing was acquired")

	require.NoError(t, r.Render(nil))
	assert.Equal(t, uint32(1), r.CurrentFrame())
}

func TestRenderSubmitError(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	f.Fail["QueueSubmit"] = errors.New("device lost")

	err := r.Render(nil)
	assert.True(t, errors.Is(err, com.ErrSubmit))
	assert.Equal(t, 0, f.Presents)
	assert.Equal(t, uint32(0), r.CurrentFrame())
	delete(f.Fail, "QueueSubmit")
}

func TestRenderRecordError(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	errRecord := errors.New("pipeline missing")
	submits := f.Submits

	err := r.Render(func(RecordInfo) error { return errRecord })
	assert.True(t, errors.Is(err, errRecord))
	assert.Equal(t, 0, f.Presents)
	assert.Equal(t, submits+1, f.Submits, "the slot is released with an empty submission")
	assert.True(t, f.FenceSignaled(r.FrameRing().Frame(0).InFlight))
	assert.Equal(t, uint32(0), r.CurrentFrame())
	assert.Equal(t, 2, f.SwapchainCreates, "the unpresented image is returned by recreating")
	assert.Equal(t, 0, f.HeldImages(r.RenderTarget().Swapchain()))

	require.NoError(t, r.Render(nil))
	assert.Equal(t, uint32(1), r.CurrentFrame())
}

func TestRenderRepeatedRecordErrors(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	errRecord := errors.New("pipeline missing")

	// More failures in a row than the swap chain has images to spare
	for i := 0; i < len(r.RenderTarget().Images())+1; i++ {
		err := r.Render(func(RecordInfo) error { return errRecord })
		require.True(t, errors.Is(err, errRecord), "render %d: %v", i, err)
	}
	assert.Equal(t, 0, f.Presents)
	assert.Equal(t, 1, f.Live("swapchain"))

	require.NoError(t, r.Render(nil))
	assert.Equal(t, 1, f.Presents)
	assert.Equal(t, uint32(1), r.CurrentFrame())
}

func TestRenderAfterFailedRecreate(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	require.NoError(t, r.Render(nil))

	f.Fail["CreateSwapchain"] = errors.New("surface lost")
	err := r.RenderTarget().SetTargetPresentMode(com.PresentModeMailbox)
	assert.True(t, errors.Is(err, com.ErrResourceCreation))
	assert.Equal(t, 0, f.Live("swapchain"))

	err = r.Render(nil)
	assert.True(t, errors.Is(err, com.ErrResourceCreation), "still failing: %v", err)
	assert.Equal(t, uint32(1), r.CurrentFrame())

	delete(f.Fail, "CreateSwapchain")
	require.NoError(t, r.Render(nil))
	assert.Equal(t, 1, f.Live("swapchain"))
	assert.Equal(t, 2, f.Presents)
	assert.Equal(t, uint32(0), r.CurrentFrame())
	mode, err := r.CurrentPresentMode()
	require.NoError(t, err)
	assert.Equal(t, com.PresentModeMailbox, mode)
}

func TestRenderResizeBetweenFrames(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	require.NoError(t, r.Render(nil))

	f.Caps.CurrentExtent = vk.Extent2D{Width: 1280, Height: 720}
	var extent vk.Extent2D
	require.NoError(t, r.Render(func(info RecordInfo) error {
		extent = info.Extent
		return nil
	}))
	assert.Equal(t, uint32(1280), extent.Width)
	assert.Equal(t, uint32(720), extent.Height)
	assert.Equal(t, 2, f.SwapchainCreates)
}

func TestRendererCreateBuffer(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})

	buf, err := r.CreateBuffer(256, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))
	require.NoError(t, err)
	assert.Equal(t, vk.DeviceSize(256), buf.Size())
	require.NoError(t, buf.Alloc(vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)))
	buf.Destroy()
	assert.Equal(t, 0, f.Live("buffer"))

	_, err = r.CreateBuffer(0, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))
	assert.True(t, errors.Is(err, com.ErrResourceCreation))
}

func TestRendererWaitForIdle(t *testing.T) {
	f := vkfake.New()
	r := newTestRenderer(t, f, CreateInfo{})
	waits := f.DeviceWaitIdles

	require.NoError(t, r.WaitForIdle())
	assert.Equal(t, waits+1, f.DeviceWaitIdles)

	f.Fail["DeviceWaitIdle"] = errors.New("device lost")
	assert.Error(t, r.WaitForIdle())
	delete(f.Fail, "DeviceWaitIdle")
}

func TestRendererDestroy(t *testing.T) {
	f := vkfake.New()
	dev := openTestDevice(t, f)
	r, err := NewRenderer(dev, CreateInfo{MsaaSamples: com.Msaa2})
	require.NoError(t, err)
	require.NoError(t, r.Render(nil))

	r.Destroy()
	for _, kind := range []string{"swapchain", "imageView", "image", "memory", "fence", "semaphore", "commandBuffer"} {
		assert.Equal(t, 0, f.Live(kind), "%s left after destroy: %v", kind, f)
	}
	assert.Equal(t, 1, f.Live("device"), "the device outlives the renderer")
}
