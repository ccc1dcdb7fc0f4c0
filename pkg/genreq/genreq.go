// Package genreq turns raw job input into a validated generation request.
package genreq

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/ditto-assistant/txt2img/pkg/imgenc"
	"github.com/ditto-assistant/txt2img/pkg/models"
)

// Request is a fully defaulted generation request.
type Request struct {
	Model             models.Family
	Prompt            string
	NegativePrompt    string
	Height            int
	Width             int
	NumInferenceSteps int
	GuidanceScale     float64
	Seed              uint64
	// SeedProvided is false when Seed was drawn by the normalizer.
	SeedProvided bool
	NumImages    int
	Format       imgenc.Requested
	// MaxSequenceLength is only set for FLUX.1 [schnell].
	MaxSequenceLength int
	// Refiner is only set for SDXL.
	Refiner *Refiner
}

// Refiner holds the SDXL base/refiner parameters.
type Refiner struct {
	Scheduler      string
	InferenceSteps int
	Strength       float64
	HighNoiseFrac  float64
	// ImageURL, when set, skips the base pipeline and refines this image.
	ImageURL string
}

// FieldError reports the input field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Normalizer validates and defaults raw input for a single family.
type Normalizer struct {
	family   models.Family
	defaults Defaults
	// seeds draws a seed when the input has none.
	seeds func() (uint64, error)
}

// New returns a Normalizer for f using crypto/rand for missing seeds.
func New(f models.Family) (*Normalizer, error) {
	d, ok := DefaultsFor(f)
	if !ok {
		return nil, fmt.Errorf("no defaults for model family %q", f)
	}
	return &Normalizer{family: f, defaults: d, seeds: RandomSeed}, nil
}

// WithSeedSource replaces the seed source, for tests and replays.
func (n *Normalizer) WithSeedSource(src func() (uint64, error)) *Normalizer {
	cp := *n
	cp.seeds = src
	return &cp
}

// Family is the model family this normalizer serves.
func (n *Normalizer) Family() models.Family {
	return n.family
}

// Normalize validates raw and fills every missing field from the family defaults.
// The image format is checked first so a bad format never costs anything else.
func (n *Normalizer) Normalize(raw map[string]any) (Request, error) {
	if raw == nil {
		return Request{}, &FieldError{Field: "input", Reason: "no input provided"}
	}
	d := n.defaults
	req := Request{
		Model:     n.family,
		NumImages: 1,
		Format:    imgenc.DefaultFormat,
	}

	format, ok, err := stringField(raw, "image_format")
	if err != nil {
		return Request{}, err
	}
	if ok {
		req.Format, err = imgenc.ParseFormat(format)
		if err != nil {
			return Request{}, &FieldError{Field: "image_format", Reason: err.Error()}
		}
	}

	prompt, _, err := stringField(raw, "prompt")
	if err != nil {
		return Request{}, err
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = d.Prompt
	}
	req.Prompt = prompt

	if req.NegativePrompt, _, err = stringField(raw, "negative_prompt"); err != nil {
		return Request{}, err
	}
	if req.Height, err = positiveIntField(raw, "height", d.Height); err != nil {
		return Request{}, err
	}
	if req.Width, err = positiveIntField(raw, "width", d.Width); err != nil {
		return Request{}, err
	}
	if req.NumInferenceSteps, err = positiveIntField(raw, "num_inference_steps", d.NumInferenceSteps); err != nil {
		return Request{}, err
	}
	if req.GuidanceScale, err = floatField(raw, "guidance_scale", d.GuidanceScale, 0, math.Inf(1)); err != nil {
		return Request{}, err
	}
	if req.NumImages, err = positiveIntField(raw, "num_images", 1); err != nil {
		return Request{}, err
	}

	seed, ok, err := seedField(raw)
	if err != nil {
		return Request{}, err
	}
	if ok {
		req.Seed, req.SeedProvided = seed, true
	} else {
		if req.Seed, err = n.seeds(); err != nil {
			return Request{}, fmt.Errorf("failed to draw seed: %w", err)
		}
	}

	if d.MaxSequenceLength > 0 {
		if req.MaxSequenceLength, err = positiveIntField(raw, "max_sequence_length", d.MaxSequenceLength); err != nil {
			return Request{}, err
		}
	}
	if d.Refiner != nil {
		if req.Refiner, err = refinerFields(raw, *d.Refiner); err != nil {
			return Request{}, err
		}
	}
	return req, nil
}

func refinerFields(raw map[string]any, d Refiner) (*Refiner, error) {
	r := d
	sched, ok, err := stringField(raw, "scheduler")
	if err != nil {
		return nil, err
	}
	if ok && sched != "" {
		if !slices.Contains(Schedulers, sched) {
			return nil, &FieldError{Field: "scheduler", Reason: fmt.Sprintf("%q is not one of %s", sched, strings.Join(Schedulers, ", "))}
		}
		r.Scheduler = sched
	}
	if r.InferenceSteps, err = positiveIntField(raw, "refiner_inference_steps", d.InferenceSteps); err != nil {
		return nil, err
	}
	if r.Strength, err = floatField(raw, "strength", d.Strength, 0, 1); err != nil {
		return nil, err
	}
	if r.HighNoiseFrac, err = floatField(raw, "high_noise_frac", d.HighNoiseFrac, 0, 1); err != nil {
		return nil, err
	}
	if r.ImageURL, _, err = stringField(raw, "image_url"); err != nil {
		return nil, err
	}
	return &r, nil
}

// RandomSeed draws a 32-bit seed from crypto/rand. The range keeps seeds
// exact in JSON consumers that parse numbers as doubles.
func RandomSeed() (uint64, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return uint64(binary.BigEndian.Uint32(b[:])), nil
}

// stringField reads key as a string. A missing key or null is reported as absent.
func stringField(raw map[string]any, key string) (string, bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, &FieldError{Field: key, Reason: fmt.Sprintf("expected a string, got %T", v)}
	}
	return s, true, nil
}

func positiveIntField(raw map[string]any, key string, def int) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, &FieldError{Field: key, Reason: err.Error()}
	}
	if n <= 0 || n > math.MaxInt32 {
		return 0, &FieldError{Field: key, Reason: fmt.Sprintf("must be a positive integer, got %d", n)}
	}
	return int(n), nil
}

func floatField(raw map[string]any, key string, def, lo, hi float64) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, &FieldError{Field: key, Reason: err.Error()}
	}
	if math.IsNaN(f) || f < lo || f > hi {
		return 0, &FieldError{Field: key, Reason: fmt.Sprintf("must be between %g and %g, got %g", lo, hi, f)}
	}
	return f, nil
}

func seedField(raw map[string]any) (uint64, bool, error) {
	v, ok := raw["seed"]
	if !ok || v == nil {
		return 0, false, nil
	}
	seed, err := toUint64(v)
	if err != nil {
		return 0, false, &FieldError{Field: "seed", Reason: err.Error()}
	}
	return seed, true, nil
}

var errNotInteger = errors.New("expected an integer")

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("%w, got %v", errNotInteger, n)
		}
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w, got %q", errNotInteger, n.String())
		}
		return toInt64(f)
	}
	return 0, fmt.Errorf("%w, got %T", errNotInteger, v)
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case json.Number:
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u, nil
		}
	case float64:
		if n >= 0 && n == math.Trunc(n) && n < math.MaxUint64 {
			return uint64(n), nil
		}
		return 0, fmt.Errorf("must be a non-negative integer, got %v", n)
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %d", i)
	}
	return uint64(i), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}
