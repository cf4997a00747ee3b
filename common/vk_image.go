package common

import (
	vk "github.com/goki/vulkan"
)

// ImageSpec describes a 2D single mip attachment image.
type ImageSpec struct {
	Format  vk.Format
	Usage   vk.ImageUsageFlags
	Extent  vk.Extent2D
	Samples vk.SampleCountFlagBits
	Aspect  vk.ImageAspectFlags
}

// Image bundles an image with its device local memory and a view over the whole image.
type Image struct {
	dev    *Device
	spec   ImageSpec
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
}

// NewImage creates the image, backs it with device local memory and creates its view. Partially created
// objects are released again on failure.
func NewImage(dev *Device, spec ImageSpec) (*Image, error) {
	if spec.Samples == 0 {
		spec.Samples = vk.SampleCount1Bit
	}
	imageInfo := &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		PNext:     nil,
		Flags:     0,
		ImageType: vk.ImageType2d,
		Format:    spec.Format,
		Extent: vk.Extent3D{
			Width:  spec.Extent.Width,
			Height: spec.Extent.Height,
			Depth:  1,
		},
		MipLevels:             1,
		ArrayLayers:           1,
		Samples:               spec.Samples,
		Tiling:                vk.ImageTilingOptimal,
		Usage:                 spec.Usage,
		SharingMode:           vk.SharingModeExclusive,
		QueueFamilyIndexCount: 0,
		PQueueFamilyIndices:   nil,
		InitialLayout:         vk.ImageLayoutUndefined,
	}
	img := &Image{dev: dev, spec: spec}
	var err error
	if img.Handle, err = dev.API.CreateImage(dev.Device, imageInfo); err != nil {
		return nil, wrapCall(ErrResourceCreation, err, "create image")
	}

	imgRequirements := dev.API.GetImageMemoryRequirements(dev.Device, img.Handle)
	memTypeIdx, err := dev.FindMemoryType(imgRequirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.Destroy()
		return nil, err
	}
	allocInfo := &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           nil,
		AllocationSize:  imgRequirements.Size,
		MemoryTypeIndex: memTypeIdx,
	}
	if img.Memory, err = dev.API.AllocateMemory(dev.Device, allocInfo); err != nil {
		img.Destroy()
		return nil, wrapCall(ErrAllocation, err, "allocate image memory")
	}
	if err = dev.API.BindImageMemory(dev.Device, img.Handle, img.Memory, 0); err != nil {
		img.Destroy()
		return nil, wrapCall(ErrAllocation, err, "bind image memory")
	}
	if img.View, err = CreateImageView(dev, img.Handle, spec.Format, spec.Aspect); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

// Spec returns the description the image was created from.
func (img *Image) Spec() ImageSpec {
	return img.spec
}

// Destroy releases the view, then the image, then its memory.
func (img *Image) Destroy() {
	if img.View != nil {
		img.dev.API.DestroyImageView(img.dev.Device, img.View)
		img.View = nil
	}
	if img.Handle != nil {
		img.dev.API.DestroyImage(img.dev.Device, img.Handle)
		img.Handle = nil
	}
	if img.Memory != nil {
		img.dev.API.FreeMemory(img.dev.Device, img.Memory)
		img.Memory = nil
	}
}

// CreateImageView creates a 2D view over the first mip level and layer of image. It also serves swap chain images.
func CreateImageView(dev *Device, image vk.Image, format vk.Format, aspectFlags vk.ImageAspectFlags) (vk.ImageView, error) {
	createInfo := &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		PNext:    nil,
		Flags:    0,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectFlags,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	imgView, err := dev.API.CreateImageView(dev.Device, createInfo)
	if err != nil {
		return nil, wrapCall(ErrResourceCreation, err, "create image view")
	}
	return imgView, nil
}
