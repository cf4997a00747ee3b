package platform

import (
	"fmt"

	com "GPU_render_core/common"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/veandco/go-sdl2/sdl"
)

const APPLICATION_NAME = "GPU render core"
const APP_MAJOR, APP_MINOR, APP_PATCH = 1, 0, 0
const ENGINE_NAME = "No Engine"
const ENGINE_MAJOR, ENGINE_MINOR, ENGINE_PATCH = 1, 0, 0

const SDL_MAJOR, SDL_MINOR, SDL_PATCH = int(sdl.MAJOR_VERSION), int(sdl.MINOR_VERSION), int(sdl.PATCHLEVEL)

// Vulkan spec go bindings = v1.0.7, as per: https://github.com/goki/vulkan = 1.3.239
const VK_SPEC_MAJOR, VK_SPEC_MINOR, VK_SPEC_PATCH int = 1, 3, 239

// Window encapsulates the SDL window together with the Vulkan instance and surface created for it. It is the
// window collaborator handed to common.OpenDevice. On tear down the surface, instance and window are destroyed in
// that order, after every device created on the surface.
type Window struct {
	sdlVersion string
	vkVersion  string

	Win       *sdl.Window
	Resized   bool
	Minimized bool
	Close     bool

	inst vk.Instance
	surf vk.Surface
}

var _ com.Window = (*Window)(nil)

// NewWindow initializes SDL, loads the Vulkan driver through SDL and creates the instance and surface. Passing
// validation layers enables them on the instance after checking they are available.
func NewWindow(title string, w int32, h int32, validationLayers []string) (*Window, error) {
	window := &Window{
		sdlVersion: fmt.Sprintf("v%d.%d.%d", SDL_MAJOR, SDL_MINOR, SDL_PATCH),
		vkVersion:  fmt.Sprintf("v%d.%d.%d", VK_SPEC_MAJOR, VK_SPEC_MINOR, VK_SPEC_PATCH),
	}
	if err := window.initSDLWindow(title, w, h); err != nil {
		return nil, err
	}
	if err := window.initVulkan(); err != nil {
		window.Destroy()
		return nil, err
	}
	if err := window.createVulkanInstance(validationLayers); err != nil {
		window.Destroy()
		return nil, err
	}
	if err := window.createSdlVkSurface(); err != nil {
		window.Destroy()
		return nil, err
	}
	com.Logger().Info("Generated SDL/Vulkan window", "sdl", window.sdlVersion, "vulkan", window.vkVersion)
	return window, nil
}

// Destroy tears down whatever NewWindow managed to create.
func (w *Window) Destroy() {
	if w.surf != nil {
		vk.DestroySurface(w.inst, w.surf, nil)
		w.surf = nil
	}
	if w.inst != nil {
		vk.DestroyInstance(w.inst, nil)
		w.inst = nil
	}
	if w.Win != nil {
		if err := w.Win.Destroy(); err != nil {
			com.Logger().Warn("Failed to destroy SDL window", "err", err)
		}
		w.Win = nil
	}
	sdl.Quit()
}

// Geometry returns the drawable size in pixels, which differs from the window size on high DPI displays.
func (w *Window) Geometry() (int32, int32) {
	return w.Win.VulkanGetDrawableSize()
}

func (w *Window) Instance() vk.Instance {
	return w.inst
}

func (w *Window) Surface() vk.Surface {
	return w.surf
}

// PollEvents drains the SDL event queue, updating the window flags and forwarding every event to onEvent, which
// may be nil.
func (w *Window) PollEvents(onEvent func(sdl.Event)) {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch ev := event.(type) {
		case *sdl.QuitEvent:
			w.Close = true
		case *sdl.WindowEvent:
			switch ev.Event {
			case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
				w.Resized = true
			case sdl.WINDOWEVENT_MINIMIZED:
				w.Minimized = true
			case sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_MAXIMIZED:
				w.Minimized = false
			case sdl.WINDOWEVENT_CLOSE:
				w.Close = true
			}
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
}

func (w *Window) initSDLWindow(title string, width int32, height int32) error {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return errors.Wrap(err, "initialize SDL")
	}
	win, err := sdl.CreateWindow(
		title,
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		width,
		height,
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE|sdl.WINDOW_VULKAN,
	)
	if err != nil {
		sdl.Quit()
		return errors.Wrap(err, "create SDL window for use with Vulkan")
	}
	com.Logger().Info("Created SDL window for use with Vulkan", "title", title, "width", width, "height", height)
	w.Win = win
	return nil
}

func (w *Window) initVulkan() error {
	// Find and load Vulkan addresses to be able to call driver level functions via provided mechanism
	vk.SetGetInstanceProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	return errors.Wrap(vk.Init(), "initialize Vulkan API")
}

func (w *Window) createVulkanInstance(validationLayers []string) error {
	requiredExtensions := w.Win.VulkanGetInstanceExtensions()
	if err := checkInstanceExtensionSupport(requiredExtensions); err != nil {
		return err
	}
	enableValidation := len(validationLayers) > 0
	if enableValidation {
		com.Logger().Debug("Validation enabled, checking layer support")
		if err := checkValidationLayerSupport(validationLayers); err != nil {
			return err
		}
	}

	applicationInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PNext:              nil,
		PApplicationName:   com.TerminatedStr(APPLICATION_NAME),
		ApplicationVersion: vk.MakeVersion(APP_MAJOR, APP_MINOR, APP_PATCH),
		PEngineName:        com.TerminatedStr(ENGINE_NAME),
		EngineVersion:      vk.MakeVersion(ENGINE_MAJOR, ENGINE_MINOR, ENGINE_PATCH),
		ApiVersion:         vk.MakeVersion(VK_SPEC_MAJOR, VK_SPEC_MINOR, VK_SPEC_PATCH),
	}
	createInfo := &vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PNext:                   nil,
		Flags:                   0,
		PApplicationInfo:        applicationInfo,
		EnabledLayerCount:       0,
		PpEnabledLayerNames:     nil,
		EnabledExtensionCount:   uint32(len(requiredExtensions)),
		PpEnabledExtensionNames: com.TerminatedStrs(requiredExtensions),
	}
	if enableValidation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = com.TerminatedStrs(validationLayers)
	}

	var inst vk.Instance
	if err := vk.Error(vk.CreateInstance(createInfo, nil, &inst)); err != nil {
		return errors.Wrapf(com.ErrResourceCreation, "create vk instance: %v", err)
	}
	if err := vk.InitInstance(inst); err != nil {
		vk.DestroyInstance(inst, nil)
		return errors.Wrap(err, "load instance level functions")
	}
	w.inst = inst
	return nil
}

func (w *Window) createSdlVkSurface() error {
	surfPtr, err := w.Win.VulkanCreateSurface(w.inst)
	if err != nil {
		return errors.Wrapf(com.ErrResourceCreation, "create SDL window's Vulkan surface: %v", err)
	}
	w.surf = vk.SurfaceFromPointer(uintptr(surfPtr))
	return nil
}

func checkInstanceExtensionSupport(requiredInstanceExt []string) error {
	supportedExtNames, err := readInstanceExtensionPropertyNames()
	if err != nil {
		return err
	}
	com.Logger().Debug("Instance extensions", "required", requiredInstanceExt, "available", supportedExtNames)
	if !com.AllOfAinB(requiredInstanceExt, supportedExtNames) {
		return errors.Errorf("at least one required instance extension of %v is not supported", requiredInstanceExt)
	}
	return nil
}

func checkValidationLayerSupport(requiredLayers []string) error {
	supportedLayerNames, err := readInstanceLayerPropertyNames()
	if err != nil {
		return err
	}
	com.Logger().Debug("Validation layers", "desired", requiredLayers, "supported", supportedLayerNames)
	if !com.AllOfAinB(requiredLayers, supportedLayerNames) {
		return errors.Errorf("at least one desired validation layer of %v is not supported", requiredLayers)
	}
	return nil
}

// readInstanceExtensionPropertyNames reduces the supported instance extensions to their names, so support checks
// become string comparisons.
func readInstanceExtensionPropertyNames() ([]string, error) {
	var extensionCount uint32
	if err := vk.Error(vk.EnumerateInstanceExtensionProperties("", &extensionCount, nil)); err != nil {
		return nil, errors.Wrap(err, "read number of instance extension properties")
	}
	extensionProperties := make([]vk.ExtensionProperties, extensionCount)
	if err := vk.Error(vk.EnumerateInstanceExtensionProperties("", &extensionCount, extensionProperties)); err != nil {
		return nil, errors.Wrapf(err, "read %d instance extension properties", extensionCount)
	}
	names := make([]string, len(extensionProperties))
	for i := range extensionProperties {
		extensionProperties[i].Deref()
		names[i] = vk.ToString(extensionProperties[i].ExtensionName[:])
	}
	return names, nil
}

func readInstanceLayerPropertyNames() ([]string, error) {
	var layerCount uint32
	if err := vk.Error(vk.EnumerateInstanceLayerProperties(&layerCount, nil)); err != nil {
		return nil, errors.Wrap(err, "read number of instance layer properties")
	}
	layers := make([]vk.LayerProperties, layerCount)
	if err := vk.Error(vk.EnumerateInstanceLayerProperties(&layerCount, layers)); err != nil {
		return nil, errors.Wrapf(err, "read %d instance layer properties", layerCount)
	}
	names := make([]string, len(layers))
	for i := range layers {
		layers[i].Deref()
		names[i] = vk.ToString(layers[i].LayerName[:])
	}
	return names, nil
}
