package models

import (
	"fmt"
	"strings"
)

// Family identifies a diffusion model family served by a worker.
type Family string

// Text-to-image families
const (
	// FluxDev is Black Forest Labs' FLUX.1 [dev].
	FluxDev Family = "flux-dev"
	// FluxSchnell is Black Forest Labs' FLUX.1 [schnell], a few-step distillation.
	FluxSchnell Family = "flux-schnell"
	// SD3 is Stability AI's Stable Diffusion 3 Medium.
	SD3 Family = "sd3"
	// SDXL is Stability AI's Stable Diffusion XL base + refiner.
	SDXL Family = "sdxl"
)

// All lists every supported family in a stable order.
var All = []Family{FluxDev, FluxSchnell, SD3, SDXL}

func (f Family) String() string {
	return string(f)
}

// ParseFamily accepts a family name case-insensitively, along with the
// upstream repository style names (e.g. "black-forest-labs/FLUX.1-dev").
func ParseFamily(s string) (Family, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "flux-dev", "flux.1-dev", "black-forest-labs/flux.1-dev":
		return FluxDev, nil
	case "flux-schnell", "flux.1-schnell", "black-forest-labs/flux.1-schnell":
		return FluxSchnell, nil
	case "sd3", "sd3-medium", "stabilityai/stable-diffusion-3-medium-diffusers":
		return SD3, nil
	case "sdxl", "stabilityai/stable-diffusion-xl-base-1.0":
		return SDXL, nil
	}
	return "", fmt.Errorf("unknown model family: %q", s)
}

type ServiceType string

const (
	ServiceTypeImageGen ServiceType = "image_generation"
)

// ServiceType is the billing category of jobs served by f.
func (f Family) ServiceType() ServiceType {
	return ServiceTypeImageGen
}
