package common

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

// PresentMode is the renderer side choice of how images are queued for presentation.
type PresentMode int

const (
	// PresentModeVSync waits for the vertical blank. The only mode every surface supports.
	PresentModeVSync PresentMode = iota
	// PresentModeImmediate presents right away and may tear.
	PresentModeImmediate
	// PresentModeMailbox replaces the queued image with the newest one, no tearing and low latency.
	PresentModeMailbox
	// PresentModeUnsupported marks a vulkan present mode without renderer counterpart.
	PresentModeUnsupported
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "Immediate"
	case PresentModeMailbox:
		return "Mailbox"
	case PresentModeVSync:
		return "VSync"
	case PresentModeUnsupported:
		return "Unsupported"
	default:
		return fmt.Sprintf("PresentMode(%d)", int(m))
	}
}

// ToVulkan translates m. PresentModeUnsupported and unknown values return ErrUnsupportedMode.
func (m PresentMode) ToVulkan() (vk.PresentMode, error) {
	switch m {
	case PresentModeImmediate:
		return vk.PresentModeImmediate, nil
	case PresentModeMailbox:
		return vk.PresentModeMailbox, nil
	case PresentModeVSync:
		return vk.PresentModeFifo, nil
	default:
		return vk.PresentModeFifo, errors.Wrapf(ErrUnsupportedMode, "renderer present mode %v", m)
	}
}

// PresentModeFromVulkan translates a vulkan present mode. Modes without counterpart yield
// PresentModeUnsupported together with ErrUnsupportedMode.
func PresentModeFromVulkan(mode vk.PresentMode) (PresentMode, error) {
	switch mode {
	case vk.PresentModeImmediate:
		return PresentModeImmediate, nil
	case vk.PresentModeMailbox:
		return PresentModeMailbox, nil
	case vk.PresentModeFifo:
		return PresentModeVSync, nil
	default:
		return PresentModeUnsupported, errors.Wrapf(ErrUnsupportedMode, "vulkan present mode %d", mode)
	}
}

// MsaaSamples is a requested multisample count.
type MsaaSamples uint32

const (
	Msaa1  MsaaSamples = 1
	Msaa2  MsaaSamples = 2
	Msaa4  MsaaSamples = 4
	Msaa8  MsaaSamples = 8
	Msaa16 MsaaSamples = 16
	Msaa32 MsaaSamples = 32
	Msaa64 MsaaSamples = 64
)

// ToVulkan returns the matching sample count bit. Values that are not a power of two up to 64 fall back to a
// single sample.
func (s MsaaSamples) ToVulkan() vk.SampleCountFlagBits {
	switch s {
	case Msaa2:
		return vk.SampleCount2Bit
	case Msaa4:
		return vk.SampleCount4Bit
	case Msaa8:
		return vk.SampleCount8Bit
	case Msaa16:
		return vk.SampleCount16Bit
	case Msaa32:
		return vk.SampleCount32Bit
	case Msaa64:
		return vk.SampleCount64Bit
	default:
		return vk.SampleCount1Bit
	}
}
