package renderer

import (
	"math"

	com "GPU_render_core/common"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

const (
	PREFERRED_FORMAT      = vk.FormatB8g8r8a8Srgb
	PREFERRED_COLOR_SPACE = vk.ColorSpaceSrgbNonlinear
	DEPTH_FORMAT          = vk.FormatD32Sfloat
)

// ChooseSwapChainFormat returns the preferred format and color space pair if available, the first format otherwise.
func ChooseSwapChainFormat(formats []vk.SurfaceFormat) (vk.SurfaceFormat, error) {
	if len(formats) == 0 {
		return vk.SurfaceFormat{}, errors.Wrap(com.ErrResourceCreation, "surface reports no formats")
	}
	for _, af := range formats {
		if af.Format == PREFERRED_FORMAT && af.ColorSpace == PREFERRED_COLOR_SPACE {
			return af, nil
		}
	}
	fallbackFormat := formats[0]
	com.Logger().Warn("Did not find preferred SurfaceFormat, selecting first one available",
		"format", fallbackFormat.Format, "colorSpace", fallbackFormat.ColorSpace)
	return fallbackFormat, nil
}

// ChooseSwapChainPresentMode returns desiredMode if available and FIFO otherwise, as FIFO is always supported.
func ChooseSwapChainPresentMode(desiredMode vk.PresentMode, available []vk.PresentMode) vk.PresentMode {
	for _, pm := range available {
		if pm == desiredMode {
			return pm
		}
	}
	com.Logger().Warn("Did not find preferred PresentMode, selecting FIFO", "desired", desiredMode)
	return vk.PresentModeFifo
}

// ChooseSwapExtent returns the current extent of the surface. A surface leaving its extent to the swap chain
// reports a width of math.MaxUint32, then the window geometry clamped into the supported bounds is used.
func ChooseSwapExtent(caps vk.SurfaceCapabilities, win com.Window) vk.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	var w, h int32
	if win != nil {
		w, h = win.Geometry()
	}
	return vk.Extent2D{
		Width:  clamp(uint32(max(w, 0)), caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(uint32(max(h, 0)), caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// ChooseImageCount asks for one image more than the minimum so acquiring does not wait on the driver, capped at
// the maximum unless it is 0 (unbounded).
func ChooseImageCount(caps vk.SurfaceCapabilities) uint32 {
	imgCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imgCount > caps.MaxImageCount {
		imgCount = caps.MaxImageCount
	}
	return imgCount
}

func clamp(v, lo, hi uint32) uint32 {
	return max(lo, min(v, hi))
}
