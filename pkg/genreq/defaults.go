package genreq

import "github.com/ditto-assistant/txt2img/pkg/models"

// Defaults are the values a family uses for fields a payload leaves out.
type Defaults struct {
	Prompt            string
	Height            int
	Width             int
	NumInferenceSteps int
	GuidanceScale     float64
	// MaxSequenceLength is zero for families whose text encoder has no
	// configurable sequence length.
	MaxSequenceLength int
	Refiner           *Refiner
}

// Schedulers accepted by the SDXL base pipeline.
var Schedulers = []string{"PNDM", "KLMS", "DDIM", "K_EULER", "DPMSolverMultistep"}

var defaults = map[models.Family]Defaults{
	models.FluxDev: {
		Prompt:            "A photo of a cat",
		Height:            768,
		Width:             1360,
		NumInferenceSteps: 30,
		GuidanceScale:     3.5,
	},
	models.FluxSchnell: {
		Prompt:            "A photo of a dog and a cat",
		Height:            768,
		Width:             1360,
		NumInferenceSteps: 4,
		GuidanceScale:     0.0,
		MaxSequenceLength: 256,
	},
	models.SD3: {
		Prompt:            "A photo of a cat",
		Height:            768,
		Width:             768,
		NumInferenceSteps: 30,
		GuidanceScale:     5.0,
	},
	models.SDXL: {
		Prompt:            "A photo of a cat",
		Height:            1024,
		Width:             1024,
		NumInferenceSteps: 30,
		GuidanceScale:     7.5,
		Refiner: &Refiner{
			Scheduler:      "DDIM",
			InferenceSteps: 50,
			Strength:       0.3,
			HighNoiseFrac:  0.8,
		},
	},
}

// DefaultsFor returns the defaults table entry for f.
func DefaultsFor(f models.Family) (Defaults, bool) {
	d, ok := defaults[f]
	if ok && d.Refiner != nil {
		r := *d.Refiner
		d.Refiner = &r
	}
	return d, ok
}
