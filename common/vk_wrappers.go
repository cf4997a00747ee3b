package common

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Utility functions wrapping the raw go bindings to provide a more go-lang style interface. This should not
// hide or alter behavior and only allow for more tidy core code by tweaking signatures. Read operations that
// require duplicated calls (count, then fill) and dereferencing of the returned C structs are folded in here too.

type vulkanAPI struct{}

// NewVkAPI returns the VkAPI backed by the loaded Vulkan driver. vk.Init (and vk.InitInstance) must have run.
func NewVkAPI() VkAPI {
	return vulkanAPI{}
}

func (vulkanAPI) EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var gpuCount uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &gpuCount, nil)); err != nil {
		return nil, err
	}
	physDevices := make([]vk.PhysicalDevice, gpuCount)
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &gpuCount, physDevices)); err != nil {
		return nil, err
	}
	return physDevices[:gpuCount], nil
}

func (vulkanAPI) GetPhysicalDeviceProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceProperties {
	var pdProps vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &pdProps)
	pdProps.Deref()
	pdProps.Limits.Deref()
	return pdProps
}

func (vulkanAPI) GetPhysicalDeviceMemoryProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties {
	var pdMemProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &pdMemProps)
	pdMemProps.Deref()
	for i := range pdMemProps.MemoryTypes {
		pdMemProps.MemoryTypes[i].Deref()
	}
	for i := range pdMemProps.MemoryHeaps {
		pdMemProps.MemoryHeaps[i].Deref()
	}
	return pdMemProps
}

func (vulkanAPI) GetQueueFamilyProperties(pd vk.PhysicalDevice) []vk.QueueFamilyProperties {
	qFamilyCount := uint32(0)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &qFamilyCount, nil)
	qFamilyProps := make([]vk.QueueFamilyProperties, qFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &qFamilyCount, qFamilyProps)
	for i := range qFamilyProps {
		qFamilyProps[i].Deref()
		qFamilyProps[i].MinImageTransferGranularity.Deref()
	}
	return qFamilyProps
}

func (vulkanAPI) GetSurfaceSupport(pd vk.PhysicalDevice, family uint32, surface vk.Surface) bool {
	var presentSupport vk.Bool32
	vk.GetPhysicalDeviceSurfaceSupport(pd, family, surface, &presentSupport)
	return presentSupport == vk.True
}

func (vulkanAPI) EnumerateDeviceExtensionNames(pd vk.PhysicalDevice) ([]string, error) {
	extensionCount := uint32(0)
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(pd, "", &extensionCount, nil)); err != nil {
		return nil, err
	}
	extensionProperties := make([]vk.ExtensionProperties, extensionCount)
	if err := vk.Error(vk.EnumerateDeviceExtensionProperties(pd, "", &extensionCount, extensionProperties)); err != nil {
		return nil, err
	}
	names := make([]string, 0, extensionCount)
	for i := range extensionProperties[:extensionCount] {
		extensionProperties[i].Deref()
		names = append(names, vk.ToString(extensionProperties[i].ExtensionName[:]))
	}
	return names, nil
}

func (vulkanAPI) GetSurfaceCapabilities(pd vk.PhysicalDevice, surface vk.Surface) (vk.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &caps)); err != nil {
		return caps, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	return caps, nil
}

func (vulkanAPI) GetSurfaceFormats(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.SurfaceFormat, error) {
	var formatCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, nil)); err != nil {
		return nil, err
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, formats)); err != nil {
		return nil, err
	}
	for i := range formats {
		formats[i].Deref()
	}
	return formats[:formatCount], nil
}

func (vulkanAPI) GetSurfacePresentModes(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.PresentMode, error) {
	var presentModeCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &presentModeCount, nil)); err != nil {
		return nil, err
	}
	presentModes := make([]vk.PresentMode, presentModeCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &presentModeCount, presentModes)); err != nil {
		return nil, err
	}
	return presentModes[:presentModeCount], nil
}

func (vulkanAPI) CreateDevice(pd vk.PhysicalDevice, info *vk.DeviceCreateInfo) (vk.Device, error) {
	var d vk.Device
	if err := vk.Error(vk.CreateDevice(pd, info, nil, &d)); err != nil {
		return nil, err
	}
	return d, nil
}

func (vulkanAPI) GetDeviceQueue(device vk.Device, family uint32, index uint32) vk.Queue {
	var q vk.Queue
	vk.GetDeviceQueue(device, family, index, &q)
	return q
}

func (vulkanAPI) DeviceWaitIdle(device vk.Device) error {
	return vk.Error(vk.DeviceWaitIdle(device))
}

func (vulkanAPI) DestroyDevice(device vk.Device) {
	vk.DestroyDevice(device, nil)
}

func (vulkanAPI) CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, error) {
	var buf vk.Buffer
	if err := vk.Error(vk.CreateBuffer(device, info, nil, &buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (vulkanAPI) DestroyBuffer(device vk.Device, buffer vk.Buffer) {
	vk.DestroyBuffer(device, buffer, nil)
}

func (vulkanAPI) GetBufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements {
	var memRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &memRequirements)
	memRequirements.Deref()
	return memRequirements
}

func (vulkanAPI) AllocateMemory(device vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	var dm vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(device, info, nil, &dm)); err != nil {
		return nil, err
	}
	return dm, nil
}

func (vulkanAPI) FreeMemory(device vk.Device, memory vk.DeviceMemory) {
	vk.FreeMemory(device, memory, nil)
}

func (vulkanAPI) BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return vk.Error(vk.BindBufferMemory(device, buffer, memory, offset))
}

func (vulkanAPI) MapMemory(device vk.Device, memory vk.DeviceMemory, offset vk.DeviceSize, size vk.DeviceSize) (unsafe.Pointer, error) {
	var pData unsafe.Pointer
	if err := vk.Error(vk.MapMemory(device, memory, offset, size, 0, &pData)); err != nil {
		return nil, err
	}
	return pData, nil
}

func (vulkanAPI) UnmapMemory(device vk.Device, memory vk.DeviceMemory) {
	vk.UnmapMemory(device, memory)
}

func (vulkanAPI) CreateImage(device vk.Device, info *vk.ImageCreateInfo) (vk.Image, error) {
	var img vk.Image
	if err := vk.Error(vk.CreateImage(device, info, nil, &img)); err != nil {
		return nil, err
	}
	return img, nil
}

func (vulkanAPI) DestroyImage(device vk.Device, image vk.Image) {
	vk.DestroyImage(device, image, nil)
}

func (vulkanAPI) GetImageMemoryRequirements(device vk.Device, image vk.Image) vk.MemoryRequirements {
	var memRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, image, &memRequirements)
	memRequirements.Deref()
	return memRequirements
}

func (vulkanAPI) BindImageMemory(device vk.Device, image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return vk.Error(vk.BindImageMemory(device, image, memory, offset))
}

func (vulkanAPI) CreateImageView(device vk.Device, info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	var iv vk.ImageView
	if err := vk.Error(vk.CreateImageView(device, info, nil, &iv)); err != nil {
		return nil, err
	}
	return iv, nil
}

func (vulkanAPI) DestroyImageView(device vk.Device, view vk.ImageView) {
	vk.DestroyImageView(device, view, nil)
}

func (vulkanAPI) CreateSwapchain(device vk.Device, info *vk.SwapchainCreateInfo) (vk.Swapchain, error) {
	var sc vk.Swapchain
	if err := vk.Error(vk.CreateSwapchain(device, info, nil, &sc)); err != nil {
		return nil, err
	}
	return sc, nil
}

func (vulkanAPI) DestroySwapchain(device vk.Device, swapchain vk.Swapchain) {
	vk.DestroySwapchain(device, swapchain, nil)
}

func (vulkanAPI) GetSwapchainImages(device vk.Device, swapchain vk.Swapchain) ([]vk.Image, error) {
	var imgCount uint32
	if err := vk.Error(vk.GetSwapchainImages(device, swapchain, &imgCount, nil)); err != nil {
		return nil, err
	}
	imgs := make([]vk.Image, imgCount)
	if err := vk.Error(vk.GetSwapchainImages(device, swapchain, &imgCount, imgs)); err != nil {
		return nil, err
	}
	return imgs[:imgCount], nil
}

func (vulkanAPI) AcquireNextImage(device vk.Device, swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore, fence vk.Fence) (uint32, vk.Result) {
	var imgIdx uint32
	ret := vk.AcquireNextImage(device, swapchain, timeout, semaphore, fence, &imgIdx)
	return imgIdx, ret
}

func (vulkanAPI) QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result {
	return vk.QueuePresent(queue, info)
}

func (vulkanAPI) CreateSemaphore(device vk.Device) (vk.Semaphore, error) {
	semCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
		PNext: nil,
		Flags: 0,
	}
	var sem vk.Semaphore
	if err := vk.Error(vk.CreateSemaphore(device, &semCreateInfo, nil, &sem)); err != nil {
		return nil, err
	}
	return sem, nil
}

func (vulkanAPI) DestroySemaphore(device vk.Device, semaphore vk.Semaphore) {
	vk.DestroySemaphore(device, semaphore, nil)
}

func (vulkanAPI) CreateFence(device vk.Device, signaled bool) (vk.Fence, error) {
	fenCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		PNext: nil,
		Flags: 0,
	}
	if signaled {
		fenCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fen vk.Fence
	if err := vk.Error(vk.CreateFence(device, &fenCreateInfo, nil, &fen)); err != nil {
		return nil, err
	}
	return fen, nil
}

func (vulkanAPI) DestroyFence(device vk.Device, fence vk.Fence) {
	vk.DestroyFence(device, fence, nil)
}

func (vulkanAPI) WaitForFences(device vk.Device, fences []vk.Fence, waitAll bool, timeout uint64) error {
	all := vk.Bool32(vk.False)
	if waitAll {
		all = vk.True
	}
	return vk.Error(vk.WaitForFences(device, uint32(len(fences)), fences, all, timeout))
}

func (vulkanAPI) ResetFences(device vk.Device, fences []vk.Fence) error {
	return vk.Error(vk.ResetFences(device, uint32(len(fences)), fences))
}

func (vulkanAPI) GetFenceStatus(device vk.Device, fence vk.Fence) vk.Result {
	return vk.GetFenceStatus(device, fence)
}

func (vulkanAPI) CreateCommandPool(device vk.Device, flags vk.CommandPoolCreateFlags, family uint32) (vk.CommandPool, error) {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		PNext:            nil,
		Flags:            flags,
		QueueFamilyIndex: family,
	}
	var cp vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(device, &poolInfo, nil, &cp)); err != nil {
		return nil, err
	}
	return cp, nil
}

func (vulkanAPI) DestroyCommandPool(device vk.Device, pool vk.CommandPool) {
	vk.DestroyCommandPool(device, pool, nil)
}

func (vulkanAPI) AllocateCommandBuffers(device vk.Device, pool vk.CommandPool, count uint32) ([]vk.CommandBuffer, error) {
	cbAllocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		PNext:              nil,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	}
	var buffers = make([]vk.CommandBuffer, count)
	if err := vk.Error(vk.AllocateCommandBuffers(device, &cbAllocateInfo, buffers)); err != nil {
		return nil, err
	}
	return buffers, nil
}

func (vulkanAPI) FreeCommandBuffers(device vk.Device, pool vk.CommandPool, buffers []vk.CommandBuffer) {
	vk.FreeCommandBuffers(device, pool, uint32(len(buffers)), buffers)
}

func (vulkanAPI) BeginCommandBuffer(buffer vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType:            vk.StructureTypeCommandBufferBeginInfo,
		PNext:            nil,
		Flags:            flags,
		PInheritanceInfo: nil,
	}
	return vk.Error(vk.BeginCommandBuffer(buffer, &beginInfo))
}

func (vulkanAPI) EndCommandBuffer(buffer vk.CommandBuffer) error {
	return vk.Error(vk.EndCommandBuffer(buffer))
}

func (vulkanAPI) ResetCommandBuffer(buffer vk.CommandBuffer) error {
	return vk.Error(vk.ResetCommandBuffer(buffer, 0))
}

func (vulkanAPI) CmdCopyBuffer(buffer vk.CommandBuffer, src vk.Buffer, dst vk.Buffer, regions []vk.BufferCopy) {
	vk.CmdCopyBuffer(buffer, src, dst, uint32(len(regions)), regions)
}

func (vulkanAPI) QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	return vk.Error(vk.QueueSubmit(queue, uint32(len(submits)), submits, fence))
}
