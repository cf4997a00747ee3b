package renderer

import (
	"testing"

	com "GPU_render_core/common"
	"GPU_render_core/internal/vkfake"

	"github.com/stretchr/testify/require"
)

func openTestDevice(t *testing.T, f *vkfake.API) *com.Device {
	t.Helper()
	dev, err := f.OpenDevice(&vkfake.Window{Width: 800, Height: 600})
	require.NoError(t, err)
	t.Cleanup(dev.Destroy)
	return dev
}

func newTestRing(t *testing.T, dev *com.Device, n uint32) *FrameRing {
	t.Helper()
	ring, err := NewFrameRing(dev, n)
	require.NoError(t, err)
	t.Cleanup(ring.Destroy)
	return ring
}
