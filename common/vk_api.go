package common

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// VkAPI is the set of Vulkan entry points the backend relies on. The production implementation returned by
// NewVkAPI forwards to github.com/goki/vulkan; tests substitute an in-memory device.
//
// Signatures follow the wrappers in vk_wrappers.go: out parameters are returned, result codes become errors.
// AcquireNextImage, QueuePresent and GetFenceStatus return the raw vk.Result because callers branch on it.
type VkAPI interface {
	// Physical device and surface reads
	EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error)
	GetPhysicalDeviceProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceProperties
	GetPhysicalDeviceMemoryProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties
	GetQueueFamilyProperties(pd vk.PhysicalDevice) []vk.QueueFamilyProperties
	GetSurfaceSupport(pd vk.PhysicalDevice, family uint32, surface vk.Surface) bool
	EnumerateDeviceExtensionNames(pd vk.PhysicalDevice) ([]string, error)
	GetSurfaceCapabilities(pd vk.PhysicalDevice, surface vk.Surface) (vk.SurfaceCapabilities, error)
	GetSurfaceFormats(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.SurfaceFormat, error)
	GetSurfacePresentModes(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.PresentMode, error)

	// Logical device
	CreateDevice(pd vk.PhysicalDevice, info *vk.DeviceCreateInfo) (vk.Device, error)
	GetDeviceQueue(device vk.Device, family uint32, index uint32) vk.Queue
	DeviceWaitIdle(device vk.Device) error
	DestroyDevice(device vk.Device)

	// Buffers and memory
	CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, error)
	DestroyBuffer(device vk.Device, buffer vk.Buffer)
	GetBufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements
	AllocateMemory(device vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error)
	FreeMemory(device vk.Device, memory vk.DeviceMemory)
	BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error
	MapMemory(device vk.Device, memory vk.DeviceMemory, offset vk.DeviceSize, size vk.DeviceSize) (unsafe.Pointer, error)
	UnmapMemory(device vk.Device, memory vk.DeviceMemory)

	// Images
	CreateImage(device vk.Device, info *vk.ImageCreateInfo) (vk.Image, error)
	DestroyImage(device vk.Device, image vk.Image)
	GetImageMemoryRequirements(device vk.Device, image vk.Image) vk.MemoryRequirements
	BindImageMemory(device vk.Device, image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error
	CreateImageView(device vk.Device, info *vk.ImageViewCreateInfo) (vk.ImageView, error)
	DestroyImageView(device vk.Device, view vk.ImageView)

	// Swap chain
	CreateSwapchain(device vk.Device, info *vk.SwapchainCreateInfo) (vk.Swapchain, error)
	DestroySwapchain(device vk.Device, swapchain vk.Swapchain)
	GetSwapchainImages(device vk.Device, swapchain vk.Swapchain) ([]vk.Image, error)
	AcquireNextImage(device vk.Device, swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore, fence vk.Fence) (uint32, vk.Result)
	QueuePresent(queue vk.Queue, info *vk.PresentInfo) vk.Result

	// Synchronization
	CreateSemaphore(device vk.Device) (vk.Semaphore, error)
	DestroySemaphore(device vk.Device, semaphore vk.Semaphore)
	CreateFence(device vk.Device, signaled bool) (vk.Fence, error)
	DestroyFence(device vk.Device, fence vk.Fence)
	WaitForFences(device vk.Device, fences []vk.Fence, waitAll bool, timeout uint64) error
	ResetFences(device vk.Device, fences []vk.Fence) error
	GetFenceStatus(device vk.Device, fence vk.Fence) vk.Result

	// Commands
	CreateCommandPool(device vk.Device, flags vk.CommandPoolCreateFlags, family uint32) (vk.CommandPool, error)
	DestroyCommandPool(device vk.Device, pool vk.CommandPool)
	AllocateCommandBuffers(device vk.Device, pool vk.CommandPool, count uint32) ([]vk.CommandBuffer, error)
	FreeCommandBuffers(device vk.Device, pool vk.CommandPool, buffers []vk.CommandBuffer)
	BeginCommandBuffer(buffer vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error
	EndCommandBuffer(buffer vk.CommandBuffer) error
	ResetCommandBuffer(buffer vk.CommandBuffer) error
	CmdCopyBuffer(buffer vk.CommandBuffer, src vk.Buffer, dst vk.Buffer, regions []vk.BufferCopy)
	QueueSubmit(queue vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error
}
