package cost_test

import (
	"testing"

	"github.com/ditto-assistant/txt2img/pkg/cost"
	"github.com/ditto-assistant/txt2img/pkg/utils/numfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerMegapixelDefaultRate(t *testing.T) {
	calc, err := cost.New(cost.StrategyMegapixel, "")
	require.NoError(t, err)

	q, err := calc.Quote(cost.Params{Width: 1360, Height: 768, NumImages: 1})
	require.NoError(t, err)
	assert.Equal(t, numfmt.Round(768*1360/1e6*0.025, 8), q.Cost)
	assert.Equal(t, 0.026112, q.Cost)
	assert.Equal(t, int64(1044480), q.Pixels)
	assert.InDelta(t, 1.04448, q.Megapixels, 1e-12)
}

func TestPerImage(t *testing.T) {
	calc, err := cost.New(cost.StrategyPerImage, "")
	require.NoError(t, err)

	q, err := calc.Quote(cost.Params{Width: 1024, Height: 1024, NumImages: 3})
	require.NoError(t, err)
	assert.Equal(t, 0.009, q.Cost)
	assert.Equal(t, 3, q.Images)
}

func TestMonotonic(t *testing.T) {
	mp := cost.PerMegapixel{Rate: "0.025"}
	base, err := mp.Quote(cost.Params{Width: 1360, Height: 768, NumImages: 1})
	require.NoError(t, err)
	doubled, err := mp.Quote(cost.Params{Width: 2720, Height: 768, NumImages: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, doubled.Cost, 2*base.Cost)

	pi := cost.PerImage{Rate: "0.003"}
	one, err := pi.Quote(cost.Params{NumImages: 2})
	require.NoError(t, err)
	two, err := pi.Quote(cost.Params{NumImages: 4})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, two.Cost, 2*one.Cost)
}

func TestDeterministic(t *testing.T) {
	calc := cost.PerMegapixel{Rate: "0.0137"}
	p := cost.Params{Width: 1024, Height: 1024, NumImages: 1}
	first, err := calc.Quote(p)
	require.NoError(t, err)
	for range 100 {
		q, err := calc.Quote(p)
		require.NoError(t, err)
		assert.Equal(t, first, q)
	}
}

func TestZeroInputs(t *testing.T) {
	q, err := cost.PerMegapixel{Rate: "0.025"}.Quote(cost.Params{})
	require.NoError(t, err)
	assert.Zero(t, q.Cost)

	q, err = cost.PerImage{Rate: "0"}.Quote(cost.Params{NumImages: 5})
	require.NoError(t, err)
	assert.Zero(t, q.Cost)
}

func TestInvalidRate(t *testing.T) {
	tests := []struct {
		name string
		calc cost.Calculator
	}{
		{"megapixel not a number", cost.PerMegapixel{Rate: "cheap"}},
		{"megapixel negative", cost.PerMegapixel{Rate: "-0.1"}},
		{"megapixel NaN", cost.PerMegapixel{Rate: "NaN"}},
		{"per image empty", cost.PerImage{Rate: ""}},
		{"per image inf", cost.PerImage{Rate: "+Inf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.calc.Quote(cost.Params{Width: 512, Height: 512, NumImages: 1})
			assert.ErrorIs(t, err, cost.ErrConfiguration)
		})
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := cost.New("per_token", "")
	assert.ErrorIs(t, err, cost.ErrConfiguration)
}

func TestFromConfigPicksMatchingRate(t *testing.T) {
	params := cost.Params{Width: 1024, Height: 1024, NumImages: 1}
	tests := []struct {
		strategy string
		rates    cost.Rates
		want     cost.Calculator
		cost     float64
	}{
		{"PER_IMAGE", cost.Rates{PerMegapixel: "0.025"}, cost.PerImage{Rate: "0.003"}, 0.003},
		{" per_image ", cost.Rates{PerMegapixel: "0.025", PerImage: "0.004"}, cost.PerImage{Rate: "0.004"}, 0.004},
		{"Megapixel", cost.Rates{PerMegapixel: "0.05", PerImage: "0.004"}, cost.PerMegapixel{Rate: "0.05"}, 0.05242880},
		{"", cost.Rates{PerImage: "0.004"}, cost.PerMegapixel{Rate: "0.025"}, 0.0262144},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			calc, err := cost.FromConfig(tt.strategy, tt.rates)
			require.NoError(t, err)
			assert.Equal(t, tt.want, calc)
			q, err := calc.Quote(params)
			require.NoError(t, err)
			assert.Equal(t, tt.cost, q.Cost)
		})
	}

	_, err := cost.FromConfig("per_token", cost.Rates{})
	assert.ErrorIs(t, err, cost.ErrConfiguration)
}
