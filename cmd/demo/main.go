package main

import (
	"log"
	"log/slog"
	"math"
	"os"
	"runtime"
	"time"

	com "GPU_render_core/common"
	"GPU_render_core/platform"
	"GPU_render_core/renderer"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/xlab/linmath"
)

const PROGRAM_NAME = "GPU render core demo"
const WINDOW_WIDTH, WINDOW_HEIGHT int32 = 1280, 720

func init() {
	// SDL and the Vulkan surface expect every call on the main thread
	runtime.LockOSThread()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)
	com.SetLogger(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
	slog.Info("Starting demo", "go", runtime.Version())
}

type vertex struct {
	Pos   linmath.Vec3
	Color linmath.Vec3
}

// sceneUniforms is the layout of the per frame uniform buffer.
type sceneUniforms struct {
	Model linmath.Mat4x4
	View  linmath.Mat4x4
	Proj  linmath.Mat4x4
}

var quad = []vertex{
	{Pos: linmath.Vec3{-0.5, -0.5, 0}, Color: linmath.Vec3{1, 0, 0}},
	{Pos: linmath.Vec3{0.5, -0.5, 0}, Color: linmath.Vec3{0, 1, 0}},
	{Pos: linmath.Vec3{0.5, 0.5, 0}, Color: linmath.Vec3{0, 0, 1}},
	{Pos: linmath.Vec3{-0.5, 0.5, 0}, Color: linmath.Vec3{1, 1, 1}},
}

// app holds what the demo creates on top of the renderer. Framebuffers are keyed by swap chain image and frame
// slot, as every slot has its own depth attachment.
type app struct {
	win      *platform.Window
	dev      *com.Device
	r        *renderer.Renderer
	vertices *com.RawBuffer
	uniforms *renderer.FrameResource[*com.RawBuffer]

	renderPass   vk.RenderPass
	passFormat   vk.Format
	generation   uint64
	framebuffers map[[2]uint32]vk.Framebuffer
	start        time.Time
}

func main() {
	var layers []string
	if com.ENABLE_VALIDATION {
		layers = com.VALIDATION_LAYERS
	}
	win, err := platform.NewWindow(PROGRAM_NAME, WINDOW_WIDTH, WINDOW_HEIGHT, layers)
	if err != nil {
		log.Fatalf("Failed to create window: %+v", err)
	}
	defer win.Destroy()

	dev, err := com.OpenDevice(com.NewVkAPI(), win.Instance(), win.Surface(), win)
	if err != nil {
		log.Fatalf("Failed to open device: %+v", err)
	}
	defer dev.Destroy()
	log.Printf("Using device\n%s", com.ToStringPhysicalDeviceTable(dev.PdProps, dev.API.GetQueueFamilyProperties(dev.PhysicalDevice)))

	r, err := renderer.NewRenderer(dev, renderer.CreateInfo{
		TargetPresentMode: com.PresentModeMailbox,
		MsaaSamples:       com.Msaa1,
	})
	if err != nil {
		log.Fatalf("Failed to create renderer: %+v", err)
	}
	defer r.Destroy()

	a := &app{
		win:          win,
		dev:          dev,
		r:            r,
		framebuffers: map[[2]uint32]vk.Framebuffer{},
		start:        time.Now(),
	}
	if err := a.setup(); err != nil {
		log.Fatalf("Failed to set up demo resources: %+v", err)
	}
	defer a.destroy()
	a.loop()
}

func (a *app) setup() error {
	var err error
	if a.vertices, err = uploadVertices(a.r, quad); err != nil {
		return err
	}
	a.uniforms = renderer.AllocateResource(a.r.FrameRing(), func(slot uint32) (*com.RawBuffer, error) {
		buf, err := a.r.CreateBuffer(192, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))
		if err != nil {
			return nil, err
		}
		if err := buf.Alloc(vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)); err != nil {
			buf.Destroy()
			return nil, err
		}
		return buf, nil
	}, (*com.RawBuffer).Destroy)
	return nil
}

// uploadVertices fills a host visible staging buffer and copies it into device local memory, waiting for the copy.
func uploadVertices(r *renderer.Renderer, vertices []vertex) (*com.RawBuffer, error) {
	data, err := com.RawBytes(vertices)
	if err != nil {
		return nil, err
	}
	size := vk.DeviceSize(len(data))

	staging, err := r.CreateBuffer(size, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()
	if err := staging.Alloc(vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)); err != nil {
		return nil, err
	}
	if err := staging.Write(0, data); err != nil {
		return nil, err
	}

	buf, err := r.CreateBuffer(size, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit))
	if err != nil {
		return nil, err
	}
	if err := buf.Alloc(vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)); err != nil {
		buf.Destroy()
		return nil, err
	}
	if err := buf.Copy(0, staging, 0, com.WholeSize, true); err != nil {
		buf.Destroy()
		return nil, err
	}
	slog.Info("Uploaded vertices", "bytes", size)
	return buf, nil
}

func (a *app) loop() {
	for !a.win.Close {
		a.win.PollEvents(a.onEvent)
		if a.win.Minimized {
			sdl.Delay(50)
			continue
		}
		// The render target picks up the new drawable size on its own
		a.win.Resized = false
		if err := a.r.Render(a.record); err != nil {
			if errors.Is(err, com.ErrAcquire) || errors.Is(err, com.ErrPresent) {
				slog.Warn("Skipped frame", "err", err)
				continue
			}
			log.Fatalf("Failed to render frame: %+v", err)
		}
	}
	if err := a.r.WaitForIdle(); err != nil {
		slog.Error("Failed to wait for idle device", "err", err)
	}
}

func (a *app) onEvent(event sdl.Event) {
	switch ev := event.(type) {
	case *sdl.KeyboardEvent:
		if ev.Type != sdl.KEYUP {
			return
		}
		switch ev.Keysym.Sym {
		case sdl.K_ESCAPE:
			a.win.Close = true
		case sdl.K_1:
			a.switchPresentMode(com.PresentModeVSync)
		case sdl.K_2:
			a.switchPresentMode(com.PresentModeMailbox)
		case sdl.K_3:
			a.switchPresentMode(com.PresentModeImmediate)
		}
	}
}

func (a *app) switchPresentMode(mode com.PresentMode) {
	if err := a.r.RenderTarget().SetTargetPresentMode(mode); err != nil {
		slog.Error("Failed to switch present mode", "mode", mode, "err", err)
		return
	}
	current, _ := a.r.CurrentPresentMode()
	slog.Info("Switched present mode", "target", mode, "current", current)
}

func (a *app) record(info renderer.RecordInfo) error {
	elapsed := time.Since(a.start).Seconds()
	if err := a.updateUniforms(info, float32(elapsed)); err != nil {
		return err
	}
	framebuffer, err := a.framebuffer(info)
	if err != nil {
		return err
	}

	pulse := float32(0.5 + 0.5*math.Sin(elapsed))
	clearValues := []vk.ClearValue{
		vk.NewClearValue([]float32{0.05, 0.1 * pulse, 0.2 + 0.2*pulse, 1}),
		vk.NewClearDepthStencil(1, 0),
	}
	renderPassInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		PNext:       nil,
		RenderPass:  a.renderPass,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: info.Extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(info.CommandBuffer, &renderPassInfo, vk.SubpassContentsInline)
	vk.CmdEndRenderPass(info.CommandBuffer)
	return nil
}

func (a *app) updateUniforms(info renderer.RecordInfo, elapsed float32) error {
	ubo, err := a.uniforms.Get(info.FrameIndex)
	if err != nil {
		return err
	}
	var u sceneUniforms
	u.Model.Identity()
	u.Model.RotateZ(&u.Model, elapsed)
	u.View.LookAt(
		&linmath.Vec3{2, 2, 2},
		&linmath.Vec3{0, 0, 0},
		&linmath.Vec3{0, 0, 1},
	)
	u.Proj.Perspective(45, float32(info.Extent.Width)/float32(max(info.Extent.Height, 1)), 0.1, 10)
	u.Proj[1][1] *= -1

	data, err := com.RawBytes(&u)
	if err != nil {
		return err
	}
	return ubo.Write(0, data)
}

// framebuffer returns the framebuffer of the acquired image and frame slot. Every recreation of the render target
// invalidates the cached framebuffers, the renderer has waited for the device before replacing its views.
func (a *app) framebuffer(info renderer.RecordInfo) (vk.Framebuffer, error) {
	if gen := a.r.RenderTarget().Generation(); gen != a.generation {
		a.destroyFramebuffers()
		a.generation = gen
	}
	if a.renderPass == nil || a.passFormat != info.Format {
		a.destroyFramebuffers()
		if a.renderPass != nil {
			vk.DestroyRenderPass(a.dev.Device, a.renderPass, nil)
			a.renderPass = nil
		}
		if err := a.createRenderPass(info.Format); err != nil {
			return nil, err
		}
	}

	key := [2]uint32{info.ImageIndex, info.FrameIndex}
	if fb, ok := a.framebuffers[key]; ok {
		return fb, nil
	}
	attachments := []vk.ImageView{info.PresentImageView, info.DepthImageView}
	framebufferInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		PNext:           nil,
		Flags:           0,
		RenderPass:      a.renderPass,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           info.Extent.Width,
		Height:          info.Extent.Height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if err := vk.Error(vk.CreateFramebuffer(a.dev.Device, &framebufferInfo, nil, &fb)); err != nil {
		return nil, errors.Wrapf(com.ErrResourceCreation, "create framebuffer %v: %v", key, err)
	}
	a.framebuffers[key] = fb
	return fb, nil
}

func (a *app) createRenderPass(format vk.Format) error {
	colorAttachment := vk.AttachmentDescription{
		Format:         format,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}
	depthAttachment := vk.AttachmentDescription{
		Format:         a.r.RenderTarget().DepthFormat(),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpDontCare,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{
			{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal},
		},
		PDepthStencilAttachment: &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}
	renderPassInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 2,
		PAttachments:    []vk.AttachmentDescription{colorAttachment, depthAttachment},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var rp vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(a.dev.Device, &renderPassInfo, nil, &rp)); err != nil {
		return errors.Wrapf(com.ErrResourceCreation, "create render pass: %v", err)
	}
	a.renderPass, a.passFormat = rp, format
	slog.Debug("Created render pass", "format", format)
	return nil
}

func (a *app) destroyFramebuffers() {
	for key, fb := range a.framebuffers {
		vk.DestroyFramebuffer(a.dev.Device, fb, nil)
		delete(a.framebuffers, key)
	}
}

// destroy runs before the renderer is destroyed, with the device idle.
func (a *app) destroy() {
	if err := a.r.WaitForIdle(); err != nil {
		slog.Error("Failed to wait for idle device", "err", err)
	}
	a.destroyFramebuffers()
	if a.renderPass != nil {
		vk.DestroyRenderPass(a.dev.Device, a.renderPass, nil)
	}
	if a.uniforms != nil {
		a.uniforms.Free()
	}
	if a.vertices != nil {
		a.vertices.Destroy()
	}
}
