package stretch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalmap/internal/colormap"
)

func percentiles(p5, p95 float64) []float64 {
	out := make([]float64, 101)
	for i := range out {
		out[i] = float64(i)
	}
	out[4] = p5
	out[94] = p95
	return out
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{2, "2"},
		{-1.0 / 3, "-0.3333333333333333"},
		{0.1, "0.1"},
		{math.Copysign(0, -1), "0"},
		{1.5e-7, "1.5e-7"},
		{1e21, "1e+21"},
		{123456.789, "123456.789"},
		{-2.5, "-2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNumber(tt.in))
		})
	}
}

func TestEncode(t *testing.T) {
	s := Stretch{Colormap: "rdylgn", Min: -1.0 / 3, Max: 1}
	assert.Equal(t, "colormap=rdylgn&stretch_range=[-0.3333333333333333,1]", s.Encode())
}

func TestDecode(t *testing.T) {
	s, ok := Decode("colormap=brbg&stretch_range=[-2.5,2.5]")
	require.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "brbg", Min: -2.5, Max: 2.5}, s)

	s, ok = Decode("colormap%3Drdbu%26stretch_range%3D%5B-1%2C1%5D")
	require.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "rdbu", Min: -1, Max: 1}, s)

	s, ok = Decode("stretch_range=[3,4]")
	require.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "reds", Min: 3, Max: 4}, s)

	s, ok = Decode("colormap=blues")
	require.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "blues", Min: 0, Max: 1}, s)

	_, ok = Decode("")
	assert.False(t, ok)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := Build(-0.123456789, 4.5, "bias", "era5_precip")
	got, ok := Decode(s.Encode())
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestExtractBounds(t *testing.T) {
	b, ok := ExtractBounds(percentiles(1.5, 9))
	require.True(t, ok)
	assert.Equal(t, Bounds{P5: 1.5, P95: 9}, b)

	_, ok = ExtractBounds(make([]float64, 94))
	assert.False(t, ok)
	_, ok = ExtractBounds(nil)
	assert.False(t, ok)

	b, ok = ExtractBounds(make([]float64, 95))
	assert.True(t, ok)
	assert.Equal(t, Bounds{}, b)
}

func TestBuild_Policy(t *testing.T) {
	tests := []struct {
		metric, product string
		p5, p95         float64
		want            Stretch
	}{
		{"bias", "era5_precip", -0.4, 2.0, Stretch{"brbg", -2, 2}},
		{"BIAS", "era5_precip", -3, 1, Stretch{"brbg", -3, 3}},
		{"bias", "era5_tmp2m", -0.4, 1.25, Stretch{"rdbu_r", -1.25, 1.25}},
		{"acc", "era5_precip", 0.2, 0.9, Stretch{"rdbu", -1, 1}},
		{"pearson", "era5_precip", 0.2, 0.9, Stretch{"rdbu", -1, 1}},
		{"seeps", "era5_precip", 0.2, 0.9, Stretch{"reds", 0, 2}},
		{"smape", "era5_precip", 0.2, 0.9, Stretch{"reds", 0, 1}},
		{"heidke-1-5-10-20", "era5_precip", -0.2, 0.5, Stretch{"rdbu", -0.2, 1}},
		{"pod-10", "era5_precip", 0.2, 0.9, Stretch{"rdbu", 0, 1}},
		{"csi-10", "era5_precip", 0.2, 0.9, Stretch{"rdylgn", 0, 1}},
		{"far-10", "era5_precip", 0.2, 0.9, Stretch{"reds", 0, 1}},
		{"ets-10", "era5_precip", 0.2, 0.9, Stretch{"rdylgn", -1.0 / 3, 1}},
		{"mae", "era5_precip", 0.2, 0.9, Stretch{"reds", 0.2, 0.9}},
		{"crps", "era5_precip", 5, 1, Stretch{"reds", 5, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.product, func(t *testing.T) {
			assert.Equal(t, tt.want, Build(tt.p5, tt.p95, tt.metric, tt.product))
		})
	}
}

func TestBuild_BiasIsSymmetric(t *testing.T) {
	for _, pair := range [][2]float64{{-1, 3}, {-7, 2}, {0.5, 0.75}, {-2, -1}} {
		s := Build(pair[0], pair[1], "bias", "era5_precip")
		assert.Equal(t, -s.Min, s.Max)
		assert.Equal(t, math.Max(math.Abs(pair[0]), math.Abs(pair[1])), s.Max)
	}
}

func TestBuild_ColormapsResolve(t *testing.T) {
	metrics := []string{"bias", "acc", "pearson", "seeps", "smape", "heidke-1", "pod-1", "csi-1", "far-1", "ets-1", "mae"}
	for _, product := range []string{"era5_precip", "era5_tmp2m"} {
		for _, metric := range metrics {
			s := Build(0, 1, metric, product)
			_, err := colormap.Resolve(0.5, 0, 1, s.Colormap)
			assert.NoError(t, err, "%s/%s -> %s", metric, product, s.Colormap)
		}
	}
}

func TestFromMetadata(t *testing.T) {
	s, ok := FromMetadata(percentiles(1, 8), "rmse", "era5_precip")
	require.True(t, ok)
	assert.Equal(t, "colormap=reds&stretch_range=[1,8]", s.Encode())

	_, ok = FromMetadata(make([]float64, 10), "rmse", "era5_precip")
	assert.False(t, ok)
}

func TestBuildShared(t *testing.T) {
	s, ok := BuildShared([]Bounds{{P5: 1, P95: 4}, {P5: 0.5, P95: 3}, {P5: 2, P95: 6}}, "mae", "era5_precip")
	require.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "reds", Min: 0.5, Max: 6}, s)

	_, ok = BuildShared(nil, "mae", "era5_precip")
	assert.False(t, ok)
}

func TestParseBound(t *testing.T) {
	v, ok := ParseBound("2.5")
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	v, ok = ParseBound(" -1 ")
	assert.True(t, ok)
	assert.Equal(t, -1.0, v)

	for _, raw := range []string{"", "abc", "NaN", "Inf", "-Infinity", "1e400", "0x1p-2", "-0x10", "1_000", "0x", "1.2.3"} {
		_, ok := ParseBound(raw)
		assert.False(t, ok, raw)
	}
}

func TestParseBound_NumberConversion(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"  ", 0},
		{"\t\n", 0},
		{"0x10", 16},
		{"0o17", 15},
		{"0b101", 5},
		{".5", 0.5},
		{"5.", 5},
		{"+3", 3},
		{"2e3", 2000},
		{"\u00a07\ufeff", 7},
	}
	for _, tt := range tests {
		v, ok := ParseBound(tt.raw)
		assert.True(t, ok, "%q", tt.raw)
		assert.Equal(t, tt.want, v, "%q", tt.raw)
	}
}

func TestApplyOverrides_BlankBoundIsZero(t *testing.T) {
	got, ok := ApplyOverrides(Stretch{Colormap: "reds", Min: 1, Max: 9}, true, " ", "", "mae", "era5_precip")
	assert.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "reds", Min: 0, Max: 9}, got)
}

func TestApplyOverrides(t *testing.T) {
	base := Stretch{Colormap: "brbg", Min: -2, Max: 2}

	got, ok := ApplyOverrides(base, true, "", "", "bias", "era5_precip")
	assert.True(t, ok)
	assert.Equal(t, base, got)

	got, ok = ApplyOverrides(base, true, "", "5", "bias", "era5_precip")
	assert.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "brbg", Min: -2, Max: 5}, got)

	got, ok = ApplyOverrides(base, true, "-1", "x", "bias", "era5_precip")
	assert.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "brbg", Min: -1, Max: 2}, got)

	_, ok = ApplyOverrides(Stretch{}, false, "", "", "mae", "era5_precip")
	assert.False(t, ok)
}

func TestApplyOverrides_NoBaseUsesPolicy(t *testing.T) {
	got, ok := ApplyOverrides(Stretch{}, false, "", "4", "mae", "era5_precip")
	require.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "reds", Min: 0, Max: 4}, got)

	got, ok = ApplyOverrides(Stretch{}, false, "-3", "", "bias", "era5_precip")
	require.True(t, ok)
	assert.Equal(t, Stretch{Colormap: "brbg", Min: -3, Max: 3}, got)
}

func TestApplyOverridesToken(t *testing.T) {
	token := "colormap=reds&stretch_range=[1,8]"
	assert.Equal(t, token, ApplyOverridesToken(token, "", "", "mae", "era5_precip"))
	assert.Equal(t, "colormap=reds&stretch_range=[1,10]", ApplyOverridesToken(token, "", "10", "mae", "era5_precip"))
	assert.Equal(t, "colormap=reds&stretch_range=[0,10]", ApplyOverridesToken("", "", "10", "mae", "era5_precip"))
	assert.Equal(t, "", ApplyOverridesToken("", "", "", "mae", "era5_precip"))
}
