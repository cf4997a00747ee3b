package common

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

// QueueFamilyIndices caches the queue families picked for a physical device. The three families may alias.
type QueueFamilyIndices struct {
	GraphicsFamily *uint32
	PresentFamily  *uint32
	TransferFamily *uint32
}

func findQueueFamilies(api VkAPI, pd vk.PhysicalDevice, surf vk.Surface) (*QueueFamilyIndices, error) {
	indices := &QueueFamilyIndices{}
	qFamilies := api.GetQueueFamilyProperties(pd)

	// Graphics and present: first family supporting them
	for i := range qFamilies {
		if indices.GraphicsFamily == nil && isBitSet(qFamilies[i], vk.QueueGraphicsBit) {
			indices.GraphicsFamily = uint32Ptr(uint32(i))
		}
		if indices.PresentFamily == nil && api.GetSurfaceSupport(pd, uint32(i), surf) {
			indices.PresentFamily = uint32Ptr(uint32(i))
		}
		if indices.GraphicsFamily != nil && indices.PresentFamily != nil {
			break
		}
	}
	if indices.GraphicsFamily == nil {
		return nil, errors.New("unable to find graphics capable queue family")
	}
	if indices.PresentFamily == nil {
		return nil, errors.New("unable to find present capable queue family for given surface")
	}

	// Transfer: prefer a dedicated family, graphics queues implicitly support transfer
	for i := range qFamilies {
		if isBitSet(qFamilies[i], vk.QueueTransferBit) && !isBitSet(qFamilies[i], vk.QueueGraphicsBit) {
			indices.TransferFamily = uint32Ptr(uint32(i))
			break
		}
	}
	if indices.TransferFamily == nil {
		indices.TransferFamily = uint32Ptr(*indices.GraphicsFamily)
	}
	return indices, nil
}

func isBitSet(qFamily vk.QueueFamilyProperties, bit vk.QueueFlagBits) bool {
	return vk.QueueFlagBits(qFamily.QueueFlags)&bit > 0
}

func uint32Ptr(v uint32) *uint32 {
	return &v
}

func (q *QueueFamilyIndices) isAllQueuesFound() bool {
	return q.GraphicsFamily != nil && q.PresentFamily != nil && q.TransferFamily != nil
}

// Graphics returns the graphics family index. Only valid on indices of an opened Device.
func (q *QueueFamilyIndices) Graphics() uint32 { return *q.GraphicsFamily }

// Present returns the present family index.
func (q *QueueFamilyIndices) Present() uint32 { return *q.PresentFamily }

// Transfer returns the transfer family index.
func (q *QueueFamilyIndices) Transfer() uint32 { return *q.TransferFamily }

// uniqueFamilies lists every distinct family in graphics, present, transfer order.
func (q *QueueFamilyIndices) uniqueFamilies() []uint32 {
	var uniqIndices []uint32
	for _, f := range []*uint32{q.GraphicsFamily, q.PresentFamily, q.TransferFamily} {
		if f != nil && !inList(*f, uniqIndices) {
			uniqIndices = append(uniqIndices, *f)
		}
	}
	return uniqIndices
}

func (q *QueueFamilyIndices) toQueueCreateInfos() []vk.DeviceQueueCreateInfo {
	uniqIndices := q.uniqueFamilies()
	infos := make([]vk.DeviceQueueCreateInfo, len(uniqIndices))
	for i := range uniqIndices {
		infos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			PNext:            nil,
			Flags:            0,
			QueueFamilyIndex: uniqIndices[i],
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}
	return infos
}

// sharingFor returns the sharing mode and the family list for a resource used by families a and b.
func sharingFor(a, b uint32) (vk.SharingMode, []uint32) {
	if a == b {
		return vk.SharingModeExclusive, nil
	}
	return vk.SharingModeConcurrent, []uint32{a, b}
}

func inList(e uint32, l []uint32) bool {
	for i := range l {
		if l[i] == e {
			return true
		}
	}
	return false
}
