package renderer

import (
	"math"
	"testing"

	"GPU_render_core/internal/vkfake"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	preferred = vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	unormSrgb = vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	rgbaSrgb  = vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	// Preferred format in the wrong color space must not match
	srgbExtended = vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpace(1000104002)}
)

func sameFormat(a, b vk.SurfaceFormat) bool {
	return a.Format == b.Format && a.ColorSpace == b.ColorSpace
}

func TestChooseSwapChainFormat(t *testing.T) {
	for idx, tc := range []struct {
		formats []vk.SurfaceFormat
		want    vk.SurfaceFormat
	}{
		{[]vk.SurfaceFormat{preferred}, preferred},
		{[]vk.SurfaceFormat{unormSrgb, preferred}, preferred},
		{[]vk.SurfaceFormat{unormSrgb, rgbaSrgb, preferred}, preferred},
		{[]vk.SurfaceFormat{preferred, unormSrgb, rgbaSrgb}, preferred},
		{[]vk.SurfaceFormat{srgbExtended, preferred}, preferred},
		{[]vk.SurfaceFormat{unormSrgb, rgbaSrgb}, unormSrgb},
		{[]vk.SurfaceFormat{rgbaSrgb, unormSrgb}, rgbaSrgb},
		{[]vk.SurfaceFormat{srgbExtended, rgbaSrgb}, srgbExtended},
	} {
		got, err := ChooseSwapChainFormat(tc.formats)
		require.NoError(t, err, "%d", idx)
		assert.True(t, sameFormat(tc.want, got), "%d: got %v/%v", idx, got.Format, got.ColorSpace)
	}

	_, err := ChooseSwapChainFormat(nil)
	assert.Error(t, err)
}

func TestChooseSwapChainPresentMode(t *testing.T) {
	available := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}
	assert.Equal(t, vk.PresentModeMailbox, ChooseSwapChainPresentMode(vk.PresentModeMailbox, available))
	assert.Equal(t, vk.PresentModeFifo, ChooseSwapChainPresentMode(vk.PresentModeFifo, available))
	assert.Equal(t, vk.PresentModeFifo, ChooseSwapChainPresentMode(vk.PresentModeImmediate, available))
	assert.Equal(t, vk.PresentModeFifo, ChooseSwapChainPresentMode(vk.PresentModeImmediate, nil))
}

func undefinedExtentCaps() vk.SurfaceCapabilities {
	return vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vk.Extent2D{Width: 100, Height: 50},
		MaxImageExtent: vk.Extent2D{Width: 1920, Height: 1080},
	}
}

func TestChooseSwapExtentDefined(t *testing.T) {
	caps := undefinedExtentCaps()
	caps.CurrentExtent = vk.Extent2D{Width: 640, Height: 480}
	// The window geometry is ignored when the surface defines its extent
	got := ChooseSwapExtent(caps, &vkfake.Window{Width: 10, Height: 10})
	assert.Equal(t, [2]uint32{640, 480}, [2]uint32{got.Width, got.Height})
}

// TestChooseSwapExtentClamp covers the geometry below, at and above the surface bounds
func TestChooseSwapExtentClamp(t *testing.T) {
	caps := undefinedExtentCaps()
	for _, tc := range []struct {
		name string
		w, h int32
		want [2]uint32
	}{
		{"below min", 10, 5, [2]uint32{100, 50}},
		{"negative", -5, -1, [2]uint32{100, 50}},
		{"at min", 100, 50, [2]uint32{100, 50}},
		{"inside", 800, 600, [2]uint32{800, 600}},
		{"at max", 1920, 1080, [2]uint32{1920, 1080}},
		{"above max", 4000, 2000, [2]uint32{1920, 1080}},
		{"mixed", 4000, 20, [2]uint32{1920, 50}},
	} {
		got := ChooseSwapExtent(caps, &vkfake.Window{Width: tc.w, Height: tc.h})
		assert.Equal(t, tc.want, [2]uint32{got.Width, got.Height}, tc.name)
	}

	got := ChooseSwapExtent(caps, nil)
	assert.Equal(t, [2]uint32{100, 50}, [2]uint32{got.Width, got.Height}, "no window")
}

func TestChooseImageCount(t *testing.T) {
	for _, tc := range []struct {
		min, max, want uint32
	}{
		{2, 0, 3},
		{2, 4, 3},
		{2, 3, 3},
		{2, 2, 2},
		{1, 8, 2},
	} {
		caps := vk.SurfaceCapabilities{MinImageCount: tc.min, MaxImageCount: tc.max}
		assert.Equal(t, tc.want, ChooseImageCount(caps), "min %d max %d", tc.min, tc.max)
	}
}
