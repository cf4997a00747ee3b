package common

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

const ENABLE_VALIDATION = true

var VALIDATION_LAYERS = []string{
	"VK_LAYER_KHRONOS_validation",
}

var DEVICE_EXTENSIONS = []string{
	"VK_KHR_swapchain",
}

// Window is the part of the windowing collaborator the backend needs: the current drawable size, used as the
// fallback extent when the surface leaves its extent undefined.
type Window interface {
	Geometry() (width, height int32)
}

// SwapChainDetails is what a surface reports about the swap chains it can back.
type SwapChainDetails struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// Device represents the interfacing objects between the window surface, the hardware running Vulkan
// and the rest of the rendering engine. It is shared by every other component through a *Device and must be
// destroyed last. Queue family indices and the logical device never change once opened.
type Device struct {
	API      VkAPI
	Instance vk.Instance
	Surface  vk.Surface

	PhysicalDevice vk.PhysicalDevice
	PdProps        vk.PhysicalDeviceProperties
	PdMemoryProps  vk.PhysicalDeviceMemoryProperties
	QFamilies      QueueFamilyIndices

	Device    vk.Device
	GraphicsQ vk.Queue
	PresentQ  vk.Queue
	TransferQ vk.Queue

	window        Window
	transientPool vk.CommandPool
	pending       []pendingCommands
}

// OpenDevice selects a physical device able to render and present to surface, opens the logical device and
// fetches the graphics, present and transfer queues. It does not take ownership of instance, surface or win.
func OpenDevice(api VkAPI, instance vk.Instance, surface vk.Surface, win Window) (*Device, error) {
	dc := &Device{
		API:      api,
		Instance: instance,
		Surface:  surface,
		window:   win,
	}
	if err := dc.selectPhysicalDevice(); err != nil {
		return nil, err
	}
	if err := dc.createLogicalDevice(); err != nil {
		return nil, err
	}
	return dc, nil
}

// Destroy all objects created by itself. It does not destroy the window, surface or instance provided for
// instantiation. Every component referencing the device must be destroyed before.
func (dc *Device) Destroy() {
	if dc.Device == nil {
		return
	}
	if err := dc.API.DeviceWaitIdle(dc.Device); err != nil {
		Logger().Warn("Device wait idle failed during teardown", "err", err)
	}
	dc.reclaimCommands(true)
	if dc.transientPool != nil {
		dc.API.DestroyCommandPool(dc.Device, dc.transientPool)
		dc.transientPool = nil
	}
	dc.API.DestroyDevice(dc.Device)
	dc.Device = nil
}

// Window returns the windowing collaborator the device presents to.
func (dc *Device) Window() Window {
	return dc.window
}

// WaitIdle blocks until every queue of the device is idle and reclaims finished one-shot command buffers.
func (dc *Device) WaitIdle() error {
	if err := dc.API.DeviceWaitIdle(dc.Device); err != nil {
		return errors.Wrap(err, "device wait idle")
	}
	dc.reclaimCommands(true)
	return nil
}

func (dc *Device) selectPhysicalDevice() error {
	availableDevices, err := dc.API.EnumeratePhysicalDevices(dc.Instance)
	if err != nil {
		return errors.Wrapf(ErrNoSuitableDevice, "enumerate physical devices: %v", err)
	}
	if len(availableDevices) == 0 {
		return errors.Wrap(ErrNoSuitableDevice, "there are 0 physical devices available")
	}

	var (
		pd      vk.PhysicalDevice
		indices *QueueFamilyIndices
	)
	for i := range availableDevices {
		qf, ok := isDeviceSuitable(dc.API, availableDevices[i], dc.Surface)
		if !ok {
			continue
		}
		isDiscreteGPU := dc.API.GetPhysicalDeviceProperties(availableDevices[i]).DeviceType == vk.PhysicalDeviceTypeDiscreteGpu
		if pd == nil || isDiscreteGPU {
			pd, indices = availableDevices[i], qf
		}
		if isDiscreteGPU {
			break
		}
	}
	if pd == nil {
		return ErrNoSuitableDevice
	}
	dc.PhysicalDevice = pd
	dc.QFamilies = *indices
	dc.PdProps = dc.API.GetPhysicalDeviceProperties(pd)
	dc.PdMemoryProps = dc.API.GetPhysicalDeviceMemoryProperties(pd)
	Logger().Info("Found suitable device",
		"name", vk.ToString(dc.PdProps.DeviceName[:]),
		"graphics", indices.Graphics(),
		"present", indices.Present(),
		"transfer", indices.Transfer(),
	)
	return nil
}

func isDeviceSuitable(api VkAPI, pd vk.PhysicalDevice, su vk.Surface) (*QueueFamilyIndices, bool) {
	pdProps := api.GetPhysicalDeviceProperties(pd)
	Logger().Debug("Physical device\n" + ToStringPhysicalDeviceTable(pdProps, api.GetQueueFamilyProperties(pd)))

	indices, err := findQueueFamilies(api, pd, su)
	if err != nil {
		Logger().Debug("Failed to get required queue families", "err", err)
		return nil, false
	}
	if !indices.isAllQueuesFound() || !checkDeviceExtensionSupport(api, pd, DEVICE_EXTENSIONS) {
		return nil, false
	}
	return indices, checkSwapChainAdequacy(api, pd, su)
}

func (dc *Device) createLogicalDevice() error {
	queueInfos := dc.QFamilies.toQueueCreateInfos()
	deviceCreateInfo := &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   nil,
		Flags:                   0,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledLayerCount:       0,
		PpEnabledLayerNames:     nil,
		EnabledExtensionCount:   uint32(len(DEVICE_EXTENSIONS)),
		PpEnabledExtensionNames: TerminatedStrs(DEVICE_EXTENSIONS),
	}
	if ENABLE_VALIDATION {
		deviceCreateInfo.EnabledLayerCount = uint32(len(VALIDATION_LAYERS))
		deviceCreateInfo.PpEnabledLayerNames = TerminatedStrs(VALIDATION_LAYERS)
	}

	device, err := dc.API.CreateDevice(dc.PhysicalDevice, deviceCreateInfo)
	if err != nil {
		return wrapCall(ErrResourceCreation, err, "create logical device")
	}
	dc.Device = device
	dc.GraphicsQ = dc.API.GetDeviceQueue(dc.Device, dc.QFamilies.Graphics(), 0)
	dc.PresentQ = dc.API.GetDeviceQueue(dc.Device, dc.QFamilies.Present(), 0)
	dc.TransferQ = dc.API.GetDeviceQueue(dc.Device, dc.QFamilies.Transfer(), 0)

	dc.transientPool, err = dc.API.CreateCommandPool(
		dc.Device,
		vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit|vk.CommandPoolCreateResetCommandBufferBit),
		dc.QFamilies.Graphics(),
	)
	if err != nil {
		dc.API.DestroyDevice(dc.Device)
		dc.Device = nil
		return wrapCall(ErrResourceCreation, err, "create transient command pool")
	}
	return nil
}

// SwapChainSupportDetails reads the current capabilities, formats and present modes of the device's surface.
func (dc *Device) SwapChainSupportDetails() (SwapChainDetails, error) {
	return readSwapChainSupportDetails(dc.API, dc.PhysicalDevice, dc.Surface)
}

func readSwapChainSupportDetails(api VkAPI, pd vk.PhysicalDevice, surface vk.Surface) (SwapChainDetails, error) {
	var (
		scDetails SwapChainDetails
		err       error
	)
	if scDetails.Capabilities, err = api.GetSurfaceCapabilities(pd, surface); err != nil {
		return scDetails, errors.Wrap(err, "read surface capabilities")
	}
	if scDetails.Formats, err = api.GetSurfaceFormats(pd, surface); err != nil {
		return scDetails, errors.Wrap(err, "read surface formats")
	}
	if scDetails.PresentModes, err = api.GetSurfacePresentModes(pd, surface); err != nil {
		return scDetails, errors.Wrap(err, "read surface present modes")
	}
	return scDetails, nil
}

// FindMemoryType returns the first memory type index allowed by typeFilter whose property flags contain
// propFlags. There is no scoring, the first match wins.
func (dc *Device) FindMemoryType(typeFilter uint32, propFlags vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < dc.PdMemoryProps.MemoryTypeCount; i++ {
		ofType := (typeFilter & (1 << i)) > 0
		hasProperties := dc.PdMemoryProps.MemoryTypes[i].PropertyFlags&propFlags == propFlags
		if ofType && hasProperties {
			Logger().Debug("Found memory type", "index", i, "heap", dc.PdMemoryProps.MemoryTypes[i].HeapIndex)
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrAllocation, "no memory type in %#b with properties %#x", typeFilter, propFlags)
}

// MaxUsableSampleCount returns the highest sample count supported for both color and depth attachments.
func (dc *Device) MaxUsableSampleCount() uint32 {
	counts := dc.PdProps.Limits.FramebufferColorSampleCounts & dc.PdProps.Limits.FramebufferDepthSampleCounts
	for _, bit := range []vk.SampleCountFlagBits{
		vk.SampleCount64Bit,
		vk.SampleCount32Bit,
		vk.SampleCount16Bit,
		vk.SampleCount8Bit,
		vk.SampleCount4Bit,
		vk.SampleCount2Bit,
	} {
		if counts&vk.SampleCountFlags(bit) != 0 {
			return uint32(bit)
		}
	}
	return 1
}
