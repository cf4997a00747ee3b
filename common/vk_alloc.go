package common

import (
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

// WholeSize requests the remaining size of a buffer from the given offset on, for both Map and Copy.
const WholeSize = vk.DeviceSize(math.MaxUint64)

// RawBuffer is one linear buffer backed by device memory. Its size and usage never change. Memory is bound once
// by Alloc. RawBuffer is not safe for concurrent use.
type RawBuffer struct {
	dev    *Device
	size   vk.DeviceSize
	usage  vk.BufferUsageFlags
	handle vk.Buffer
	memory vk.DeviceMemory
	props  vk.MemoryPropertyFlags
	mapped bool
}

// NewRawBuffer creates the buffer handle without any memory. The buffer is shared between the graphics and
// transfer families when those differ.
func NewRawBuffer(dev *Device, size vk.DeviceSize, usage vk.BufferUsageFlags) (*RawBuffer, error) {
	if size == 0 {
		return nil, errors.Wrap(ErrResourceCreation, "buffer size must be greater than 0")
	}
	sharingMode, families := sharingFor(dev.QFamilies.Graphics(), dev.QFamilies.Transfer())
	bufferInfo := vk.BufferCreateInfo{
		SType:                 vk.StructureTypeBufferCreateInfo,
		PNext:                 nil,
		Flags:                 0,
		Size:                  size,
		Usage:                 usage,
		SharingMode:           sharingMode,
		QueueFamilyIndexCount: uint32(len(families)),
		PQueueFamilyIndices:   families,
	}
	buf, err := dev.API.CreateBuffer(dev.Device, &bufferInfo)
	if err != nil {
		return nil, wrapCall(ErrResourceCreation, err, "create buffer")
	}
	return &RawBuffer{
		dev:    dev,
		size:   size,
		usage:  usage,
		handle: buf,
	}, nil
}

// Alloc selects the first memory type fitting the buffer requirements and props, allocates it and binds it.
func (b *RawBuffer) Alloc(props vk.MemoryPropertyFlags) error {
	if b.memory != nil {
		return ErrAlreadyAllocated
	}
	bufRequirements := b.dev.API.GetBufferMemoryRequirements(b.dev.Device, b.handle)
	Logger().Debug("Allocating buffer memory", "requirements", ToStringMemoryRequirements(bufRequirements))

	memTypeIdx, err := b.dev.FindMemoryType(bufRequirements.MemoryTypeBits, props)
	if err != nil {
		return err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           nil,
		AllocationSize:  bufRequirements.Size,
		MemoryTypeIndex: memTypeIdx,
	}
	deviceMem, err := b.dev.API.AllocateMemory(b.dev.Device, &allocInfo)
	if err != nil {
		return wrapCall(ErrAllocation, err, "allocate buffer memory")
	}
	if err := b.dev.API.BindBufferMemory(b.dev.Device, b.handle, deviceMem, 0); err != nil {
		b.dev.API.FreeMemory(b.dev.Device, deviceMem)
		return wrapCall(ErrAllocation, err, "bind buffer memory")
	}
	b.memory = deviceMem
	b.props = props
	return nil
}

// Map exposes size bytes of the bound memory from offset on. The memory must have been allocated host visible.
// Only one mapping may exist at a time.
func (b *RawBuffer) Map(offset vk.DeviceSize, size vk.DeviceSize) ([]byte, error) {
	if b.memory == nil {
		return nil, ErrNotAllocated
	}
	if b.mapped {
		return nil, ErrAlreadyMapped
	}
	if offset >= b.size {
		return nil, errors.Wrapf(ErrRange, "map offset %d exceeds buffer size %d", offset, b.size)
	}
	if size == WholeSize {
		size = b.size - offset
	} else if size == 0 || size > b.size-offset {
		return nil, errors.Wrapf(ErrRange, "map of %d bytes at %d exceeds buffer size %d", size, offset, b.size)
	}
	pData, err := b.dev.API.MapMemory(b.dev.Device, b.memory, offset, size)
	if err != nil {
		return nil, wrapCall(ErrAllocation, err, "map buffer memory")
	}
	b.mapped = true
	return unsafe.Slice((*byte)(pData), int(size)), nil
}

// Unmap invalidates the slice returned by Map. Unmapping a buffer that is not mapped does nothing.
func (b *RawBuffer) Unmap() error {
	if b.memory == nil {
		return ErrNotAllocated
	}
	if !b.mapped {
		return nil
	}
	b.dev.API.UnmapMemory(b.dev.Device, b.memory)
	b.mapped = false
	return nil
}

// Write is a convenience method to map the memory, copy data over starting at offset and unmap again.
func (b *RawBuffer) Write(offset vk.DeviceSize, data []byte) error {
	if b.memory == nil {
		return ErrNotAllocated
	}
	if len(data) == 0 {
		return nil
	}
	mem, err := b.Map(offset, vk.DeviceSize(len(data)))
	if err != nil {
		return err
	}
	copy(mem, data)
	return b.Unmap()
}

// Copy records a device side copy of size bytes from src at srcOffset into b at dstOffset and submits it as a
// one-shot command sequence. WholeSize copies as much as fits in both buffers. With wait the call returns once
// the copy completed.
func (b *RawBuffer) Copy(dstOffset vk.DeviceSize, src *RawBuffer, srcOffset vk.DeviceSize, size vk.DeviceSize, wait bool) error {
	if b.memory == nil || src.memory == nil {
		return ErrNotAllocated
	}
	if srcOffset > src.size {
		return errors.Wrapf(ErrRange, "source offset %d exceeds source size %d", srcOffset, src.size)
	}
	if dstOffset > b.size {
		return errors.Wrapf(ErrRange, "destination offset %d exceeds destination size %d", dstOffset, b.size)
	}
	if size == WholeSize {
		size = min(src.size-srcOffset, b.size-dstOffset)
	} else if size > src.size-srcOffset || size > b.size-dstOffset {
		return errors.Wrapf(ErrRange, "copy of %d bytes from %d to %d exceeds a buffer", size, srcOffset, dstOffset)
	}
	if size == 0 {
		return nil
	}

	cmdBuf, err := b.dev.BeginSingleTimeCommands()
	if err != nil {
		return err
	}
	b.dev.API.CmdCopyBuffer(cmdBuf, src.handle, b.handle, []vk.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
	return b.dev.EndSingleTimeCommands(cmdBuf, wait)
}

// Destroy unmaps and frees the memory before destroying the buffer handle. Calling it again does nothing.
func (b *RawBuffer) Destroy() {
	if b.handle == nil {
		return
	}
	if b.mapped {
		b.dev.API.UnmapMemory(b.dev.Device, b.memory)
		b.mapped = false
	}
	if b.memory != nil {
		b.dev.API.FreeMemory(b.dev.Device, b.memory)
		b.memory = nil
	}
	b.dev.API.DestroyBuffer(b.dev.Device, b.handle)
	b.handle = nil
}

func (b *RawBuffer) Size() vk.DeviceSize { return b.size }
func (b *RawBuffer) Usage() vk.BufferUsageFlags { return b.usage }
func (b *RawBuffer) Handle() vk.Buffer { return b.handle }
func (b *RawBuffer) Memory() vk.DeviceMemory { return b.memory }
func (b *RawBuffer) Properties() vk.MemoryPropertyFlags { return b.props }
func (b *RawBuffer) IsMapped() bool { return b.mapped }
