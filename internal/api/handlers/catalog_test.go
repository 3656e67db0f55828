package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalmap/internal/colormap"
	"evalmap/internal/external"
	"evalmap/internal/scores"
	"evalmap/internal/types"
)

type fakeStyles struct {
	flavors []string
	style   map[string]any
	err     error
}

func (f *fakeStyles) FetchStyle(_ context.Context, flavor string) (map[string]any, error) {
	f.flavors = append(f.flavors, flavor)
	return f.style, f.err
}

var _ external.StyleFetcher = (*fakeStyles)(nil)

func newCatalogRouter(styles external.StyleFetcher) http.Handler {
	return newRouter(NewCatalogHandler(styles, "light", testValidator(), testLogger()).RegisterRoutes)
}

func TestHandleColor(t *testing.T) {
	router := newCatalogRouter(nil)

	t.Run("linear", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/v1/colors?value=0.25&min=0&max=1&colormap=blues", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp ColorResponse
		decodeData(t, rec, &resp)
		want, err := colormap.Resolve(0.25, 0, 1, "blues")
		require.NoError(t, err)
		assert.Equal(t, want, resp.Color)
		assert.Equal(t, "blues", resp.Colormap)
		assert.False(t, resp.Signed)
	})

	t.Run("signed default colormap", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/v1/colors?value=-1&min=-2&max=4&signed=true", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp ColorResponse
		decodeData(t, rec, &resp)
		want, err := colormap.ResolveSigned(-1, -2, 4, "reds")
		require.NoError(t, err)
		assert.Equal(t, want, resp.Color)
		assert.Equal(t, "reds", resp.Colormap)
		assert.True(t, resp.Signed)
	})

	tests := []struct {
		name  string
		query string
		code  types.ErrorCode
	}{
		{"missing value", "min=0&max=1", types.ErrCodeValidationMissingField},
		{"bad bound", "value=abc&min=0&max=1", types.ErrCodeValidationInvalidNumber},
		{"unknown colormap", "value=0&min=0&max=1&colormap=sunset", types.ErrCodeValidationUnknownColormap},
		{"bad signed flag", "value=0&min=0&max=1&signed=maybe", types.ErrCodeValidationInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/v1/colors?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestHandleListColormaps(t *testing.T) {
	rec := do(t, newCatalogRouter(nil), http.MethodGet, "/v1/colormaps", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []ColormapInfo
	decodeData(t, rec, &resp)
	require.Len(t, resp, len(colormap.Names()))

	byName := make(map[string]ColormapInfo, len(resp))
	for _, info := range resp {
		byName[info.Name] = info
	}
	require.Contains(t, byName, "brbg")
	assert.Equal(t, colormap.Stops("brbg"), byName["brbg"].Stops)
}

func TestHandleTimeFilter(t *testing.T) {
	router := newCatalogRouter(nil)

	rec := do(t, router, http.MethodGet, "/v1/timefilter?time_filter=march&time_filter=M01&mode=number", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TimeFilterResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "march,M01", resp.Raw)
	assert.Equal(t, "NUMBER", string(resp.Mode))
	assert.Equal(t, "3,1", resp.Normalized)
	assert.Equal(t, "March, January", resp.Humanized)

	rec = do(t, router, http.MethodGet, "/v1/timefilter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &resp)
	assert.Equal(t, "None", resp.Raw)
	assert.Equal(t, "None", resp.Normalized)

	rec = do(t, router, http.MethodGet, "/v1/timefilter?mode=roman", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, types.ErrCodeValidationInvalidMode, errorCode(t, rec))
}

func TestHandleMetric(t *testing.T) {
	router := newCatalogRouter(nil)

	rec := do(t, router, http.MethodGet, "/v1/metrics/bias?product=era5_precip", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MetricResponse
	decodeData(t, rec, &resp)
	info, _ := scores.Lookup("bias")
	assert.Equal(t, "bias", resp.Metric)
	assert.Equal(t, info.Name, resp.Name)
	assert.Equal(t, "mm/day", resp.Units)
	assert.False(t, resp.Unitless)
	assert.NotEmpty(t, resp.DescriptionHTML)

	rec = do(t, router, http.MethodGet, "/v1/metrics/acc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &resp)
	assert.True(t, resp.Unitless)
	assert.Empty(t, resp.Units)

	rec = do(t, router, http.MethodGet, "/v1/metrics/nonsense", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, types.ErrCodeNotFoundMetric, errorCode(t, rec))
	assert.Equal(t, "nonsense", errorDetails(t, rec)["metric"])
}

func TestHandleBasemapStyle(t *testing.T) {
	styles := &fakeStyles{style: map[string]any{"version": float64(8), "name": "light"}}
	router := newCatalogRouter(styles)

	rec := do(t, router, http.MethodGet, "/v1/basemap/style", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(8), body["version"])
	assert.NotContains(t, body, "data")

	rec = do(t, router, http.MethodGet, "/v1/basemap/style?flavor=dark", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"light", "dark"}, styles.flavors)
}

func TestHandleBasemapStyle_Upstream(t *testing.T) {
	styles := &fakeStyles{err: types.NewAppError(types.ErrCodeUpstreamBasemap, "basemap style unavailable", nil)}
	rec := do(t, newCatalogRouter(styles), http.MethodGet, "/v1/basemap/style", nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, types.ErrCodeUpstreamBasemap, errorCode(t, rec))
}

func TestHandleBasemapStyle_NotMountedWithoutFetcher(t *testing.T) {
	rec := do(t, newCatalogRouter(nil), http.MethodGet, "/v1/basemap/style", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
