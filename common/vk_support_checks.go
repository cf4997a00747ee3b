package common

import (
	vk "github.com/goki/vulkan"
)

// Validation functions ensuring a physical device provides what the backend requires.

func checkDeviceExtensionSupport(api VkAPI, pd vk.PhysicalDevice, requiredDeviceExt []string) bool {
	supportedExtNames, err := api.EnumerateDeviceExtensionNames(pd)
	if err != nil {
		Logger().Debug("Failed to read device extensions", "err", err)
		return false
	}
	Logger().Debug("Checking device extensions", "required", requiredDeviceExt, "available", len(supportedExtNames))
	return AllOfAinB(requiredDeviceExt, supportedExtNames)
}

func checkSwapChainAdequacy(api VkAPI, pd vk.PhysicalDevice, surface vk.Surface) bool {
	scDetails, err := readSwapChainSupportDetails(api, pd, surface)
	if err != nil {
		Logger().Debug("Failed to read swap chain details", "err", err)
		return false
	}
	Logger().Debug("Read swap chain details", "formats", len(scDetails.Formats), "presentModes", scDetails.PresentModes)
	return len(scDetails.Formats) > 0 && len(scDetails.PresentModes) > 0
}
