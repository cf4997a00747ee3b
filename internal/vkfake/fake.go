// Package vkfake provides an in-memory stand-in for the Vulkan driver. Every call completes immediately: a
// submission executes its recorded copies and signals its fence before QueueSubmit returns.
package vkfake

import (
	"fmt"
	"unsafe"

	com "GPU_render_core/common"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
)

// PhysicalDevice configures one adapter reported by EnumeratePhysicalDevices.
type PhysicalDevice struct {
	Properties    vk.PhysicalDeviceProperties
	QueueFamilies []vk.QueueFamilyProperties
	// PresentFamilies lists the families able to present to the surface. Nil means every family.
	PresentFamilies []uint32
	Extensions      []string
}

type fakeBuffer struct {
	size   vk.DeviceSize
	memory vk.DeviceMemory
	offset vk.DeviceSize
}

type copyCmd struct {
	src, dst vk.Buffer
	region   vk.BufferCopy
}

// API implements common.VkAPI. Exported fields configure the fake or count calls, tests read and write them
// between calls.
type API struct {
	Instance vk.Instance
	Surface  vk.Surface

	PhysicalDevices  []*PhysicalDevice
	MemoryProperties vk.PhysicalDeviceMemoryProperties
	// MemoryTypeBits is reported in the memory requirements of every buffer and image.
	MemoryTypeBits uint32

	Caps         vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode

	// AcquireResults and PresentResults are consumed front first, vk.Success once empty.
	AcquireResults []vk.Result
	PresentResults []vk.Result

	// Fail makes the named VkAPI method fail with the given error.
	Fail map[string]error

	FenceWaits        map[vk.Fence]int
	SwapchainCreates  int
	SwapchainDestroys int
	Acquires          int
	Presents          int
	Submits           int
	DeviceWaitIdles   int
	LastSwapchainInfo vk.SwapchainCreateInfo
	LastBufferInfo    vk.BufferCreateInfo
	LastImageInfo     vk.ImageCreateInfo
	LastDeviceInfo    vk.DeviceCreateInfo

	next            uintptr
	live            map[unsafe.Pointer]string
	physical        map[vk.PhysicalDevice]*PhysicalDevice
	queues          map[uint32]vk.Queue
	memory          map[vk.DeviceMemory][]byte
	buffers         map[vk.Buffer]*fakeBuffer
	fences          map[vk.Fence]bool
	recorded        map[vk.CommandBuffer][]copyCmd
	swapchainImages map[vk.Swapchain][]vk.Image
	minImages       map[vk.Swapchain]uint32
	heldImages      map[vk.Swapchain]int
	acquireCounter  uint32
}

var _ com.VkAPI = (*API)(nil)

// New returns a fake with a single discrete adapter exposing one family for graphics, transfer and present,
// a device local and a host visible memory type and a surface of 800x600 with 2 to 4 images.
func New() *API {
	f := &API{
		MemoryTypeBits:  0b11,
		Fail:            map[string]error{},
		FenceWaits:      map[vk.Fence]int{},
		live:            map[unsafe.Pointer]string{},
		physical:        map[vk.PhysicalDevice]*PhysicalDevice{},
		queues:          map[uint32]vk.Queue{},
		memory:          map[vk.DeviceMemory][]byte{},
		buffers:         map[vk.Buffer]*fakeBuffer{},
		fences:          map[vk.Fence]bool{},
		recorded:        map[vk.CommandBuffer][]copyCmd{},
		swapchainImages: map[vk.Swapchain][]vk.Image{},
		minImages:       map[vk.Swapchain]uint32{},
		heldImages:      map[vk.Swapchain]int{},
	}
	f.Instance = vk.Instance(f.handle("instance"))
	f.Surface = vk.Surface(f.handle("surface"))
	f.PhysicalDevices = []*PhysicalDevice{
		NewPhysicalDevice("fake discrete", vk.PhysicalDeviceTypeDiscreteGpu, vk.SampleCount8Bit),
	}
	f.MemoryProperties.MemoryTypeCount = 2
	f.MemoryProperties.MemoryTypes[0] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		HeapIndex:     0,
	}
	f.MemoryProperties.MemoryTypes[1] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit),
		HeapIndex:     1,
	}
	f.MemoryProperties.MemoryHeapCount = 2
	f.Caps = vk.SurfaceCapabilities{
		MinImageCount:  2,
		MaxImageCount:  4,
		CurrentExtent:  vk.Extent2D{Width: 800, Height: 600},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	f.Formats = []vk.SurfaceFormat{{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}}
	f.PresentModes = []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}
	return f
}

// NewPhysicalDevice describes a suitable adapter of the given type supporting up to maxSamples for color and
// depth attachments.
func NewPhysicalDevice(name string, deviceType vk.PhysicalDeviceType, maxSamples vk.SampleCountFlagBits) *PhysicalDevice {
	pd := &PhysicalDevice{
		QueueFamilies: []vk.QueueFamilyProperties{{
			QueueFlags: vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit),
			QueueCount: 1,
		}},
		Extensions: []string{"VK_KHR_swapchain"},
	}
	pd.Properties.DeviceType = deviceType
	copy(pd.Properties.DeviceName[:], name)
	sampleCounts := vk.SampleCountFlags(maxSamples<<1 - 1)
	pd.Properties.Limits.FramebufferColorSampleCounts = sampleCounts
	pd.Properties.Limits.FramebufferDepthSampleCounts = sampleCounts
	return pd
}

// handle returns a new opaque handle outside of the Go heap. Fake handles are never dereferenced.
func (f *API) handle(kind string) unsafe.Pointer {
	f.next++
	p := unsafe.Pointer(uintptr(0x100000 + f.next*0x10))
	f.live[p] = kind
	return p
}

func (f *API) release(p unsafe.Pointer) {
	delete(f.live, p)
}

// Live counts the handles of kind that were created and not yet destroyed.
func (f *API) Live(kind string) int {
	n := 0
	for _, k := range f.live {
		if k == kind {
			n++
		}
	}
	return n
}

// HeldImages counts the images acquired from swapchain and not presented yet.
func (f *API) HeldImages(swapchain vk.Swapchain) int {
	return f.heldImages[swapchain]
}

// FenceSignaled reports the state of a fake fence.
func (f *API) FenceSignaled(fence vk.Fence) bool {
	return f.fences[fence]
}

// MemoryBytes exposes the backing store of a fake allocation.
func (f *API) MemoryBytes(memory vk.DeviceMemory) []byte {
	return f.memory[memory]
}

func (f *API) fail(method string) error {
	return f.Fail[method]
}

func (f *API) EnumeratePhysicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	if err := f.fail("EnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	pds := make([]vk.PhysicalDevice, 0, len(f.PhysicalDevices))
	for _, cfg := range f.PhysicalDevices {
		pd := vk.PhysicalDevice(f.handle("physicalDevice"))
		f.physical[pd] = cfg
		pds = append(pds, pd)
	}
	return pds, nil
}

func (f *API) GetPhysicalDeviceProperties(pd vk.PhysicalDevice) vk.PhysicalDeviceProperties {
	return f.physical[pd].Properties
}

func (f *API) GetPhysicalDeviceMemoryProperties(vk.PhysicalDevice) vk.PhysicalDeviceMemoryProperties {
	return f.MemoryProperties
}

func (f *API) GetQueueFamilyProperties(pd vk.PhysicalDevice) []vk.QueueFamilyProperties {
	return f.physical[pd].QueueFamilies
}

func (f *API) GetSurfaceSupport(pd vk.PhysicalDevice, family uint32, _ vk.Surface) bool {
	cfg := f.physical[pd]
	if cfg.PresentFamilies == nil {
		return true
	}
	for _, pf := range cfg.PresentFamilies {
		if pf == family {
			return true
		}
	}
	return false
}

func (f *API) EnumerateDeviceExtensionNames(pd vk.PhysicalDevice) ([]string, error) {
	return f.physical[pd].Extensions, f.fail("EnumerateDeviceExtensionNames")
}

func (f *API) GetSurfaceCapabilities(vk.PhysicalDevice, vk.Surface) (vk.SurfaceCapabilities, error) {
	return f.Caps, f.fail("GetSurfaceCapabilities")
}

func (f *API) GetSurfaceFormats(vk.PhysicalDevice, vk.Surface) ([]vk.SurfaceFormat, error) {
	return f.Formats, f.fail("GetSurfaceFormats")
}

func (f *API) GetSurfacePresentModes(vk.PhysicalDevice, vk.Surface) ([]vk.PresentMode, error) {
	return f.PresentModes, f.fail("GetSurfacePresentModes")
}

func (f *API) CreateDevice(_ vk.PhysicalDevice, info *vk.DeviceCreateInfo) (vk.Device, error) {
	if err := f.fail("CreateDevice"); err != nil {
		return nil, err
	}
	f.LastDeviceInfo = *info
	return vk.Device(f.handle("device")), nil
}

func (f *API) GetDeviceQueue(_ vk.Device, family uint32, _ uint32) vk.Queue {
	if q, ok := f.queues[family]; ok {
		return q
	}
	q := vk.Queue(f.handle("queue"))
	f.queues[family] = q
	return q
}

func (f *API) DeviceWaitIdle(vk.Device) error {
	f.DeviceWaitIdles++
	return f.fail("DeviceWaitIdle")
}

func (f *API) DestroyDevice(device vk.Device) {
	f.release(unsafe.Pointer(device))
}

func (f *API) CreateBuffer(_ vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, error) {
	if err := f.fail("CreateBuffer"); err != nil {
		return nil, err
	}
	f.LastBufferInfo = *info
	buf := vk.Buffer(f.handle("buffer"))
	f.buffers[buf] = &fakeBuffer{size: info.Size}
	return buf, nil
}

func (f *API) DestroyBuffer(_ vk.Device, buffer vk.Buffer) {
	delete(f.buffers, buffer)
	f.release(unsafe.Pointer(buffer))
}

func (f *API) GetBufferMemoryRequirements(_ vk.Device, buffer vk.Buffer) vk.MemoryRequirements {
	return vk.MemoryRequirements{
		Size:           f.buffers[buffer].size,
		Alignment:      16,
		MemoryTypeBits: f.MemoryTypeBits,
	}
}

func (f *API) AllocateMemory(_ vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	if err := f.fail("AllocateMemory"); err != nil {
		return nil, err
	}
	if info.MemoryTypeIndex >= f.MemoryProperties.MemoryTypeCount {
		return nil, errors.Errorf("fake: memory type %d out of range", info.MemoryTypeIndex)
	}
	mem := vk.DeviceMemory(f.handle("memory"))
	f.memory[mem] = make([]byte, info.AllocationSize)
	return mem, nil
}

func (f *API) FreeMemory(_ vk.Device, memory vk.DeviceMemory) {
	delete(f.memory, memory)
	f.release(unsafe.Pointer(memory))
}

func (f *API) BindBufferMemory(_ vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	if err := f.fail("BindBufferMemory"); err != nil {
		return err
	}
	b := f.buffers[buffer]
	b.memory, b.offset = memory, offset
	return nil
}

func (f *API) MapMemory(_ vk.Device, memory vk.DeviceMemory, offset vk.DeviceSize, size vk.DeviceSize) (unsafe.Pointer, error) {
	if err := f.fail("MapMemory"); err != nil {
		return nil, err
	}
	mem := f.memory[memory]
	if offset+size > vk.DeviceSize(len(mem)) {
		return nil, errors.Errorf("fake: mapping %d bytes at %d of %d", size, offset, len(mem))
	}
	return unsafe.Pointer(&mem[offset]), nil
}

func (f *API) UnmapMemory(vk.Device, vk.DeviceMemory) {}

func (f *API) CreateImage(_ vk.Device, info *vk.ImageCreateInfo) (vk.Image, error) {
	if err := f.fail("CreateImage"); err != nil {
		return nil, err
	}
	f.LastImageInfo = *info
	return vk.Image(f.handle("image")), nil
}

func (f *API) DestroyImage(_ vk.Device, image vk.Image) {
	f.release(unsafe.Pointer(image))
}

func (f *API) GetImageMemoryRequirements(vk.Device, vk.Image) vk.MemoryRequirements {
	return vk.MemoryRequirements{Size: 64, Alignment: 16, MemoryTypeBits: f.MemoryTypeBits}
}

func (f *API) BindImageMemory(vk.Device, vk.Image, vk.DeviceMemory, vk.DeviceSize) error {
	return f.fail("BindImageMemory")
}

func (f *API) CreateImageView(vk.Device, *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	if err := f.fail("CreateImageView"); err != nil {
		return nil, err
	}
	return vk.ImageView(f.handle("imageView")), nil
}

func (f *API) DestroyImageView(_ vk.Device, view vk.ImageView) {
	f.release(unsafe.Pointer(view))
}

func (f *API) CreateSwapchain(_ vk.Device, info *vk.SwapchainCreateInfo) (vk.Swapchain, error) {
	if err := f.fail("CreateSwapchain"); err != nil {
		return nil, err
	}
	f.SwapchainCreates++
	f.LastSwapchainInfo = *info
	sc := vk.Swapchain(f.handle("swapchain"))
	// Presentable images belong to the swap chain and are not tracked as live images
	imgs := make([]vk.Image, info.MinImageCount)
	for i := range imgs {
		imgs[i] = vk.Image(f.handle("swapchainImage"))
	}
	f.swapchainImages[sc] = imgs
	f.minImages[sc] = f.Caps.MinImageCount
	return sc, nil
}

func (f *API) DestroySwapchain(_ vk.Device, swapchain vk.Swapchain) {
	f.SwapchainDestroys++
	for _, img := range f.swapchainImages[swapchain] {
		f.release(unsafe.Pointer(img))
	}
	delete(f.swapchainImages, swapchain)
	delete(f.minImages, swapchain)
	delete(f.heldImages, swapchain)
	f.release(unsafe.Pointer(swapchain))
}

func (f *API) GetSwapchainImages(_ vk.Device, swapchain vk.Swapchain) ([]vk.Image, error) {
	if err := f.fail("GetSwapchainImages"); err != nil {
		return nil, err
	}
	return append([]vk.Image(nil), f.swapchainImages[swapchain]...), nil
}

func (f *API) AcquireNextImage(_ vk.Device, swapchain vk.Swapchain, _ uint64, _ vk.Semaphore, fence vk.Fence) (uint32, vk.Result) {
	f.Acquires++
	ret := vk.Success
	if len(f.AcquireResults) > 0 {
		ret, f.AcquireResults = f.AcquireResults[0], f.AcquireResults[1:]
	}
	if ret != vk.Success && ret != vk.Suboptimal {
		return 0, ret
	}
	imgs := f.swapchainImages[swapchain]
	// An application holding more than len(imgs)-minImageCount images would wait forever on a real driver
	if f.heldImages[swapchain] > len(imgs)-int(f.minImages[swapchain]) {
		return 0, vk.Timeout
	}
	f.heldImages[swapchain]++
	idx := f.acquireCounter % uint32(len(imgs))
	f.acquireCounter++
	if fence != nil {
		f.fences[fence] = true
	}
	return idx, ret
}

func (f *API) QueuePresent(_ vk.Queue, info *vk.PresentInfo) vk.Result {
	f.Presents++
	for _, sc := range info.PSwapchains {
		if f.heldImages[sc] > 0 {
			f.heldImages[sc]--
		}
	}
	ret := vk.Success
	if len(f.PresentResults) > 0 {
		ret, f.PresentResults = f.PresentResults[0], f.PresentResults[1:]
	}
	return ret
}

func (f *API) CreateSemaphore(vk.Device) (vk.Semaphore, error) {
	if err := f.fail("CreateSemaphore"); err != nil {
		return nil, err
	}
	return vk.Semaphore(f.handle("semaphore")), nil
}

func (f *API) DestroySemaphore(_ vk.Device, semaphore vk.Semaphore) {
	f.release(unsafe.Pointer(semaphore))
}

func (f *API) CreateFence(_ vk.Device, signaled bool) (vk.Fence, error) {
	if err := f.fail("CreateFence"); err != nil {
		return nil, err
	}
	fence := vk.Fence(f.handle("fence"))
	f.fences[fence] = signaled
	return fence, nil
}

func (f *API) DestroyFence(_ vk.Device, fence vk.Fence) {
	delete(f.fences, fence)
	f.release(unsafe.Pointer(fence))
}

// WaitForFences fails instead of blocking forever on a fence no submission will signal.
func (f *API) WaitForFences(_ vk.Device, fences []vk.Fence, _ bool, _ uint64) error {
	for _, fence := range fences {
		f.FenceWaits[fence]++
		if !f.fences[fence] {
			return errors.Errorf("fake: waiting on unsignaled fence %p would deadlock", unsafe.Pointer(fence))
		}
	}
	return nil
}

func (f *API) ResetFences(_ vk.Device, fences []vk.Fence) error {
	for _, fence := range fences {
		f.fences[fence] = false
	}
	return f.fail("ResetFences")
}

func (f *API) GetFenceStatus(_ vk.Device, fence vk.Fence) vk.Result {
	if f.fences[fence] {
		return vk.Success
	}
	return vk.NotReady
}

func (f *API) CreateCommandPool(vk.Device, vk.CommandPoolCreateFlags, uint32) (vk.CommandPool, error) {
	if err := f.fail("CreateCommandPool"); err != nil {
		return nil, err
	}
	return vk.CommandPool(f.handle("commandPool")), nil
}

func (f *API) DestroyCommandPool(_ vk.Device, pool vk.CommandPool) {
	f.release(unsafe.Pointer(pool))
}

func (f *API) AllocateCommandBuffers(_ vk.Device, _ vk.CommandPool, count uint32) ([]vk.CommandBuffer, error) {
	if err := f.fail("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	buffers := make([]vk.CommandBuffer, count)
	for i := range buffers {
		buffers[i] = vk.CommandBuffer(f.handle("commandBuffer"))
	}
	return buffers, nil
}

func (f *API) FreeCommandBuffers(_ vk.Device, _ vk.CommandPool, buffers []vk.CommandBuffer) {
	for _, cb := range buffers {
		delete(f.recorded, cb)
		f.release(unsafe.Pointer(cb))
	}
}

func (f *API) BeginCommandBuffer(buffer vk.CommandBuffer, _ vk.CommandBufferUsageFlags) error {
	delete(f.recorded, buffer)
	return f.fail("BeginCommandBuffer")
}

func (f *API) EndCommandBuffer(vk.CommandBuffer) error {
	return f.fail("EndCommandBuffer")
}

func (f *API) ResetCommandBuffer(buffer vk.CommandBuffer) error {
	delete(f.recorded, buffer)
	return f.fail("ResetCommandBuffer")
}

func (f *API) CmdCopyBuffer(buffer vk.CommandBuffer, src vk.Buffer, dst vk.Buffer, regions []vk.BufferCopy) {
	for _, r := range regions {
		f.recorded[buffer] = append(f.recorded[buffer], copyCmd{src: src, dst: dst, region: r})
	}
}

// QueueSubmit runs the recorded copies of every submitted command buffer and signals fence.
func (f *API) QueueSubmit(_ vk.Queue, submits []vk.SubmitInfo, fence vk.Fence) error {
	if err := f.fail("QueueSubmit"); err != nil {
		return err
	}
	f.Submits++
	for _, s := range submits {
		for _, cb := range s.PCommandBuffers {
			for _, c := range f.recorded[cb] {
				if err := f.execCopy(c); err != nil {
					return err
				}
			}
		}
	}
	if fence != nil {
		f.fences[fence] = true
	}
	return nil
}

func (f *API) execCopy(c copyCmd) error {
	src, dst := f.buffers[c.src], f.buffers[c.dst]
	if src == nil || dst == nil || src.memory == nil || dst.memory == nil {
		return errors.New("fake: copy between unbound buffers")
	}
	r := c.region
	if r.SrcOffset+r.Size > src.size || r.DstOffset+r.Size > dst.size {
		return errors.Errorf("fake: copy region %+v out of bounds", r)
	}
	srcMem := f.memory[src.memory][src.offset+r.SrcOffset:]
	dstMem := f.memory[dst.memory][dst.offset+r.DstOffset:]
	copy(dstMem[:r.Size], srcMem[:r.Size])
	return nil
}

// Window is a fixed size window collaborator.
type Window struct {
	Width, Height int32
}

func (w *Window) Geometry() (int32, int32) {
	return w.Width, w.Height
}

// String lists the live handles per kind, handy in failure messages.
func (f *API) String() string {
	counts := map[string]int{}
	for _, k := range f.live {
		counts[k]++
	}
	return fmt.Sprintf("vkfake.API%v", counts)
}

// OpenDevice opens a common.Device on the fake instance and surface.
func (f *API) OpenDevice(win com.Window) (*com.Device, error) {
	return com.OpenDevice(f, f.Instance, f.Surface, win)
}
