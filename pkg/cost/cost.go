// Package cost prices generation jobs.
//
// Rates come from configuration as strings and are parsed on every
// calculation. A bad rate surfaces as ErrConfiguration on the first job
// that needs it.
package cost

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ditto-assistant/txt2img/pkg/utils/numfmt"
)

const (
	DefaultRatePerMegapixel = "0.025"
	DefaultRatePerImage     = "0.003"

	megapixelPlaces = 8
	perImagePlaces  = 6
)

var ErrConfiguration = errors.New("invalid cost configuration")

// Strategy names accepted by New.
type Strategy string

const (
	StrategyMegapixel Strategy = "megapixel"
	StrategyPerImage  Strategy = "per_image"
)

// Params are the request parameters a cost depends on.
type Params struct {
	Width     int
	Height    int
	NumImages int
}

// Quote is a priced job. Cost is in USD.
type Quote struct {
	Pixels     int64   `json:"pixels"`
	Megapixels float64 `json:"megapixels"`
	Images     int     `json:"images"`
	Cost       float64 `json:"cost"`
}

// Calculator prices a job. Implementations are pure.
type Calculator interface {
	Quote(p Params) (Quote, error)
}

// ParseStrategy normalizes a configured strategy name. Empty selects
// StrategyMegapixel.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyMegapixel, "":
		return StrategyMegapixel, nil
	case StrategyPerImage:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrConfiguration, s)
}

// New returns the calculator for strategy s using rate, falling back to the
// strategy's default rate when rate is empty.
func New(s Strategy, rate string) (Calculator, error) {
	st, err := ParseStrategy(string(s))
	if err != nil {
		return nil, err
	}
	if st == StrategyPerImage {
		if rate == "" {
			rate = DefaultRatePerImage
		}
		return PerImage{Rate: rate}, nil
	}
	if rate == "" {
		rate = DefaultRatePerMegapixel
	}
	return PerMegapixel{Rate: rate}, nil
}

// Rates are the configured rates for every strategy.
type Rates struct {
	PerMegapixel string
	PerImage     string
}

// FromConfig resolves strategy s and builds its calculator from the
// matching rate in r.
func FromConfig(s string, r Rates) (Calculator, error) {
	st, err := ParseStrategy(s)
	if err != nil {
		return nil, err
	}
	if st == StrategyPerImage {
		return New(st, r.PerImage)
	}
	return New(st, r.PerMegapixel)
}

// PerMegapixel charges by output area: round(w*h/1e6 * rate, 8).
type PerMegapixel struct {
	Rate string
}

func (c PerMegapixel) Quote(p Params) (Quote, error) {
	rate, err := parseRate("COST_PER_MEGAPIXEL", c.Rate)
	if err != nil {
		return Quote{}, err
	}
	if p.Width < 0 || p.Height < 0 {
		return Quote{}, fmt.Errorf("negative dimensions %dx%d", p.Width, p.Height)
	}
	pixels := int64(p.Width) * int64(p.Height)
	mp := float64(pixels) / 1_000_000
	return Quote{
		Pixels:     pixels,
		Megapixels: mp,
		Images:     p.NumImages,
		Cost:       numfmt.Round(mp*rate, megapixelPlaces),
	}, nil
}

// PerImage charges a flat rate per generated image: round(rate*n, 6).
type PerImage struct {
	Rate string
}

func (c PerImage) Quote(p Params) (Quote, error) {
	rate, err := parseRate("COST_PER_IMAGE", c.Rate)
	if err != nil {
		return Quote{}, err
	}
	if p.NumImages < 0 {
		return Quote{}, fmt.Errorf("negative image count %d", p.NumImages)
	}
	pixels := int64(p.Width) * int64(p.Height)
	return Quote{
		Pixels:     pixels,
		Megapixels: float64(pixels) / 1_000_000,
		Images:     p.NumImages,
		Cost:       numfmt.Round(rate*float64(p.NumImages), perImagePlaces),
	}, nil
}

func parseRate(name, raw string) (float64, error) {
	rate, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrConfiguration, name, raw)
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return 0, fmt.Errorf("%w: %s=%q must be a finite non-negative number", ErrConfiguration, name, raw)
	}
	return rate, nil
}
