package panel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"evalmap/internal/dataset"
	"evalmap/internal/external"
	"evalmap/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// percentiles returns 100 entries with p5 at index 4 and p95 at index 94.
func percentiles(p5, p95 float64) []float64 {
	out := make([]float64, 100)
	out[4] = p5
	out[94] = p95
	return out
}

type fakeFetcher struct {
	mu       sync.Mutex
	metadata map[string]*external.Metadata
	errs     map[string]error
	fallback *external.Metadata
	calls    []string

	// gate blocks fetches of the listed ids until the channel is closed.
	// Blocked fetches ignore cancellation when ignoreCancel is set.
	gate         map[string]chan struct{}
	ignoreCancel bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		metadata: map[string]*external.Metadata{},
		errs:     map[string]error{},
		gate:     map[string]chan struct{}{},
	}
}

func (f *fakeFetcher) FetchMetadata(ctx context.Context, id string) (*external.Metadata, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	gate := f.gate[id]
	ignore := f.ignoreCancel
	f.mu.Unlock()

	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if md, ok := f.metadata[id]; ok {
		return md, nil
	}
	if f.fallback != nil {
		return f.fallback, nil
	}
	return nil, &external.FetchError{DatasetID: id, Status: http.StatusNotFound}
}

func (f *fakeFetcher) TileURL(id, token string) string {
	return "tiles/" + id + "?" + token
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	commits  int
	active   int
}

func (o *recordingObserver) ObserveRefresh(_ string, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveDebounceCommit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits++
}

func (o *recordingObserver) SetActivePanels(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = n
}

func (o *recordingObserver) snapshot() ([]string, int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...), o.commits, o.active
}

func singleID(vars Snapshot) string {
	return dataset.BuildID(SingleParams(vars.Variables(), ""))
}

func TestSnapshotSignature(t *testing.T) {
	a := Snapshot{"metric": {"bias"}, "forecast": {"ecmwf"}}
	b := Snapshot{"forecast": {"ecmwf"}, "metric": {"bias"}}
	assert.Equal(t, `{"forecast":["ecmwf"],"metric":["bias"]}`, a.Signature())
	assert.True(t, a.Equal(b))

	assert.True(t, Snapshot{"x": nil}.Equal(Snapshot{"x": {}}))
	assert.False(t, Snapshot{"x": {"1"}}.Equal(Snapshot{"x": {"1", "2"}}))
	assert.Equal(t, []string{"forecast", "metric"}, a.Names())

	c := a.Clone()
	c["metric"][0] = "acc"
	assert.Equal(t, "bias", a["metric"][0])
}

func TestDebouncer_FiresOnceForSettledValue(t *testing.T) {
	A := Snapshot{"metric": {"a"}}
	B := Snapshot{"metric": {"b"}}
	C := Snapshot{"metric": {"c"}}
	seq := []Snapshot{A, A, B, B, B, C, C, C, C}

	d := NewDebouncer(A, 3*time.Second)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var fired []int
	var committed Snapshot
	for i, snap := range seq {
		if got, ok := d.Observe(start.Add(time.Duration(i)*time.Second), snap); ok {
			fired = append(fired, i)
			committed = got
		}
	}
	assert.Equal(t, []int{8}, fired)
	assert.True(t, committed.Equal(C))
	assert.Equal(t, StateIdle, d.State())
	assert.True(t, d.Committed().Equal(C))
}

func TestDebouncer_RevertDropsCandidate(t *testing.T) {
	A := Snapshot{"metric": {"a"}}
	B := Snapshot{"metric": {"b"}}
	d := NewDebouncer(A, time.Second)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok := d.Observe(start, B)
	assert.False(t, ok)
	assert.Equal(t, StatePending, d.State())

	_, ok = d.Observe(start.Add(500*time.Millisecond), A)
	assert.False(t, ok)
	assert.Equal(t, StateIdle, d.State())

	// B must settle again from scratch.
	_, ok = d.Observe(start.Add(2*time.Second), B)
	assert.False(t, ok)
	_, ok = d.Observe(start.Add(2500*time.Millisecond), B)
	assert.False(t, ok)
	_, ok = d.Observe(start.Add(3*time.Second), B)
	assert.True(t, ok)
}

func TestVariableStore_Copies(t *testing.T) {
	s := NewVariableStore()
	in := Snapshot{"metric": {"bias"}}
	s.Set("p1", in)
	in["metric"][0] = "acc"

	got, ok := s.Snapshot("p1")
	require.True(t, ok)
	assert.Equal(t, "bias", got["metric"][0])
	got["metric"][0] = "pod-5"

	again, _ := s.Snapshot("p1")
	assert.Equal(t, "bias", again["metric"][0])

	s.Delete("p1")
	_, ok = s.Snapshot("p1")
	assert.False(t, ok)
}

func TestBuildLayer_Ready(t *testing.T) {
	f := newFakeFetcher()
	f.fallback = &external.Metadata{Percentiles: percentiles(-1, 3)}
	p := NewPipeline(f, 0, nil)

	params := SingleParams(dataset.Variables{"forecast": {"ecmwf_ifs_er"}, "metric": {"bias"}, "product": {"tmp2m"}}, "")
	layer, err := p.BuildLayer(context.Background(), params, "", "")
	require.NoError(t, err)

	assert.Equal(t, StatusReady, layer.Status)
	require.NotNil(t, layer.Stretch)
	assert.Equal(t, "rdbu_r", layer.Stretch.Colormap)
	assert.Equal(t, "colormap=rdbu_r&stretch_range=[-3,3]", layer.Token)
	assert.Equal(t, "tiles/"+layer.DatasetID+"?"+layer.Token, layer.TileURL)
	assert.Contains(t, layer.Legend, "-3.0 °C")
	assert.Equal(t, dataset.BuildID(params), layer.DatasetID)
}

func TestBuildLayer_Statuses(t *testing.T) {
	params := SingleParams(dataset.Variables{"metric": {"mae"}}, "")
	id := dataset.BuildID(params)

	t.Run("not found", func(t *testing.T) {
		f := newFakeFetcher()
		layer, err := NewPipeline(f, 0, nil).BuildLayer(context.Background(), params, "", "")
		require.NoError(t, err)
		assert.Equal(t, StatusNoData, layer.Status)
		assert.Empty(t, layer.TileURL)
		assert.Contains(t, layer.Legend, "No stretch")
	})

	t.Run("upstream failure", func(t *testing.T) {
		f := newFakeFetcher()
		f.errs[id] = &external.FetchError{DatasetID: id, Status: http.StatusBadGateway}
		layer, err := NewPipeline(f, 0, nil).BuildLayer(context.Background(), params, "2", "")
		require.NoError(t, err)
		assert.Equal(t, StatusFetchFailed, layer.Status)
		assert.Nil(t, layer.Stretch)
	})

	t.Run("too few percentiles", func(t *testing.T) {
		f := newFakeFetcher()
		f.metadata[id] = &external.Metadata{Percentiles: []float64{1, 2, 3}}
		layer, err := NewPipeline(f, 0, nil).BuildLayer(context.Background(), params, "", "")
		require.NoError(t, err)
		assert.Equal(t, StatusNoData, layer.Status)
	})

	t.Run("override without base", func(t *testing.T) {
		f := newFakeFetcher()
		f.metadata[id] = &external.Metadata{Percentiles: []float64{1, 2, 3}}
		layer, err := NewPipeline(f, 0, nil).BuildLayer(context.Background(), params, "", "5")
		require.NoError(t, err)
		assert.Equal(t, StatusReady, layer.Status)
		assert.Equal(t, "colormap=reds&stretch_range=[0,5]", layer.Token)
	})

	t.Run("override keeps colormap", func(t *testing.T) {
		f := newFakeFetcher()
		f.metadata[id] = &external.Metadata{Percentiles: percentiles(0.5, 4)}
		layer, err := NewPipeline(f, 0, nil).BuildLayer(context.Background(), params, "", "10")
		require.NoError(t, err)
		assert.Equal(t, "colormap=reds&stretch_range=[0.5,10]", layer.Token)
	})

	t.Run("canceled", func(t *testing.T) {
		f := newFakeFetcher()
		f.gate[id] = make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewPipeline(f, 0, nil).BuildLayer(ctx, params, "", "")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBuildGrid_SharedStretchPerProduct(t *testing.T) {
	vars := dataset.Variables{"forecast": {"ecmwf_ifs_er"}, "grid": {"global1_5"}, "metric": {"mae"}}
	f := newFakeFetcher()
	f.metadata[dataset.BuildID(dataset.CellParams(vars, "era5_precip", 1))] = &external.Metadata{Percentiles: percentiles(1, 4)}
	f.metadata[dataset.BuildID(dataset.CellParams(vars, "era5_precip", 2))] = &external.Metadata{Percentiles: percentiles(2, 6)}
	tempWeek1 := dataset.BuildID(dataset.CellParams(vars, "era5_tmp2m", 1))
	f.errs[tempWeek1] = errors.New("boom")

	grid, err := NewPipeline(f, 2, nil).BuildGrid(context.Background(), vars, nil, []int{1, 2, 3})
	require.NoError(t, err)

	require.Len(t, grid.Rows, 2)
	rain, temp := grid.Rows[0], grid.Rows[1]
	assert.True(t, rain.Visible)
	assert.Equal(t, "colormap=reds&stretch_range=[1,6]", rain.Token)
	assert.False(t, temp.Visible)
	assert.Nil(t, temp.Stretch)
	assert.Equal(t, StatusReady, grid.Status)

	require.Len(t, grid.Cells, 6)
	byKey := map[string]Cell{}
	for _, c := range grid.Cells {
		byKey[c.Key] = c
	}
	assert.NotEmpty(t, byKey["rain-week1"].TileURL)
	assert.NotEmpty(t, byKey["rain-week2"].TileURL)
	assert.Empty(t, byKey["rain-week3"].TileURL, "cell without metadata gets no tile")
	assert.Equal(t, rain.Token, byKey["rain-week3"].Token)
	assert.Empty(t, byKey["temp-week1"].TileURL)
	assert.Equal(t, tempWeek1, byKey["temp-week1"].DatasetID)
}

func TestBuildGrid_AllFailed(t *testing.T) {
	vars := dataset.Variables{"metric": {"mae"}}
	f := newFakeFetcher()
	for _, prod := range DefaultProducts {
		f.errs[dataset.BuildID(dataset.CellParams(vars, prod.Product, 1))] = errors.New("down")
	}
	grid, err := NewPipeline(f, 0, nil).BuildGrid(context.Background(), vars, nil, []int{1})
	require.NoError(t, err)
	assert.Equal(t, StatusFetchFailed, grid.Status)
}

func TestBuildGrid_UnsetMetric(t *testing.T) {
	vars := dataset.Variables{"grid": {"global1_5"}}
	f := newFakeFetcher()
	f.fallback = &external.Metadata{Percentiles: percentiles(2, 5)}

	grid, err := NewPipeline(f, 0, nil).BuildGrid(context.Background(), vars, nil, []int{1})
	require.NoError(t, err)

	require.NotEmpty(t, grid.Rows)
	assert.Equal(t, "colormap=reds&stretch_range=[2,5]", grid.Rows[0].Token)
	assert.Equal(t, dataset.BuildID(dataset.CellParams(vars, DefaultProducts[0].Product, 1)), grid.Cells[0].DatasetID)
	assert.Empty(t, dataset.CellParams(vars, DefaultProducts[0].Product, 1).Metric)
}

func TestSharedStretch(t *testing.T) {
	params := SingleParams(dataset.Variables{"metric": {"bias"}, "product": {"precip"}}, "")
	f := newFakeFetcher()
	f.metadata[dataset.BuildID(params.With(params.Product, "week1"))] = &external.Metadata{Percentiles: percentiles(-1, 2)}
	f.metadata[dataset.BuildID(params.With(params.Product, "week2"))] = &external.Metadata{Percentiles: percentiles(-4, 1)}

	s, ok, err := NewPipeline(f, 0, nil).SharedStretch(context.Background(), params, []string{"week1", "week2", "week3"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "brbg", s.Colormap)
	assert.Equal(t, -4.0, s.Min)
	assert.Equal(t, 4.0, s.Max)

	_, ok, err = NewPipeline(newFakeFetcher(), 0, nil).SharedStretch(context.Background(), params, []string{"week1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func newTestRuntime(f *fakeFetcher, store *VariableStore, spec Spec, initial Snapshot, obs Observer) *Runtime {
	store.Set(spec.ID, initial)
	return NewRuntime(spec, initial, store, NewPipeline(f, 0, nil), RuntimeConfig{PollInterval: time.Hour, SettleWindow: time.Second}, obs, nil)
}

func TestRuntime_InitialRefreshAndTick(t *testing.T) {
	f := newFakeFetcher()
	f.fallback = &external.Metadata{Percentiles: percentiles(0, 8)}
	store := NewVariableStore()
	obs := &recordingObserver{}
	initial := Snapshot{"metric": {"mae"}}
	rt := newTestRuntime(f, store, Spec{ID: "p1", Mode: ModeSingle}, initial, obs)

	assert.Equal(t, StatusPending, rt.State().Status)

	ctx := context.Background()
	rt.startRefresh(ctx, initial)
	rt.Wait()
	st := rt.State()
	assert.Equal(t, StatusReady, st.Status)
	assert.EqualValues(t, 1, st.Generation)
	assert.Equal(t, "mae", st.Metric.Metric)
	require.NotNil(t, st.Layer)
	assert.Equal(t, "colormap=reds&stretch_range=[0,8]", st.Layer.Token)

	next := Snapshot{"metric": {"mae"}, "vmax": {"4"}}
	store.Set("p1", next)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, rt.Tick(ctx, now))
	assert.True(t, rt.State().Pending)
	assert.False(t, rt.Tick(ctx, now.Add(500*time.Millisecond)))
	assert.True(t, rt.Tick(ctx, now.Add(time.Second)))
	rt.Wait()

	st = rt.State()
	assert.EqualValues(t, 2, st.Generation)
	assert.False(t, st.Pending)
	assert.True(t, st.Variables.Equal(next))
	assert.Equal(t, "colormap=reds&stretch_range=[0,4]", st.Layer.Token)

	outcomes, commits, _ := obs.snapshot()
	assert.Equal(t, []string{"ready", "ready"}, outcomes)
	assert.Equal(t, 1, commits)
}

func TestRuntime_DiscardsStaleRefresh(t *testing.T) {
	f := newFakeFetcher()
	f.fallback = &external.Metadata{Percentiles: percentiles(0, 8)}
	f.ignoreCancel = true
	store := NewVariableStore()
	obs := &recordingObserver{}

	slow := Snapshot{"metric": {"mae"}, "grid": {"slow"}}
	fast := Snapshot{"metric": {"mae"}, "grid": {"fast"}}
	release := make(chan struct{})
	f.gate[singleID(slow)] = release

	rt := newTestRuntime(f, store, Spec{ID: "p1", Mode: ModeSingle}, slow, obs)
	ctx := context.Background()
	rt.startRefresh(ctx, slow)
	rt.startRefresh(ctx, fast)

	require.Eventually(t, func() bool { return rt.State().Generation == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	rt.Wait()

	st := rt.State()
	assert.EqualValues(t, 1, st.Generation)
	assert.True(t, st.Variables.Equal(fast))
	assert.Equal(t, singleID(fast), st.Layer.DatasetID)

	outcomes, _, _ := obs.snapshot()
	assert.ElementsMatch(t, []string{"ready", OutcomeStale}, outcomes)
}

func TestRuntime_CancelsSupersededFetch(t *testing.T) {
	f := newFakeFetcher()
	f.fallback = &external.Metadata{Percentiles: percentiles(0, 8)}
	store := NewVariableStore()
	obs := &recordingObserver{}

	slow := Snapshot{"metric": {"mae"}, "grid": {"slow"}}
	fast := Snapshot{"metric": {"mae"}, "grid": {"fast"}}
	f.gate[singleID(slow)] = make(chan struct{}) // never released

	rt := newTestRuntime(f, store, Spec{ID: "p1", Mode: ModeSingle}, slow, obs)
	ctx := context.Background()
	rt.startRefresh(ctx, slow)
	rt.startRefresh(ctx, fast)
	rt.Wait()

	st := rt.State()
	assert.EqualValues(t, 1, st.Generation)
	assert.True(t, st.Variables.Equal(fast))
	outcomes, _, _ := obs.snapshot()
	assert.ElementsMatch(t, []string{"ready", OutcomeCanceled}, outcomes)
}

func TestRuntime_Multi(t *testing.T) {
	f := newFakeFetcher()
	f.fallback = &external.Metadata{Percentiles: percentiles(1, 3)}
	store := NewVariableStore()
	initial := Snapshot{"metric": {"mae"}, "max_lead": {"2"}}
	rt := newTestRuntime(f, store, Spec{ID: "m1", Mode: ModeMulti}, initial, nil)

	rt.startRefresh(context.Background(), initial)
	rt.Wait()

	st := rt.State()
	assert.Equal(t, StatusReady, st.Status)
	require.NotNil(t, st.Grid)
	assert.Len(t, st.Grid.Rows, 2)
	assert.Len(t, st.Grid.Cells, 4)
	assert.Nil(t, st.Layer)
}

func TestRuntime_StartStop(t *testing.T) {
	f := newFakeFetcher()
	f.fallback = &external.Metadata{Percentiles: percentiles(0, 1)}
	store := NewVariableStore()
	initial := Snapshot{"metric": {"mae"}}
	store.Set("p1", initial)
	rt := NewRuntime(Spec{ID: "p1"}, initial, store, NewPipeline(f, 0, nil),
		RuntimeConfig{PollInterval: 5 * time.Millisecond, SettleWindow: 10 * time.Millisecond}, nil, nil)

	rt.Start(context.Background())
	rt.Start(context.Background())
	require.Eventually(t, func() bool { return rt.State().Generation == 1 }, time.Second, 5*time.Millisecond)

	store.Set("p1", Snapshot{"metric": {"rmse"}})
	require.Eventually(t, func() bool { return rt.State().Metric.Metric == "rmse" }, 2*time.Second, 5*time.Millisecond)

	rt.Stop()
	rt.Stop()
}

func newTestRegistry(f *fakeFetcher, max int, obs Observer) *Registry {
	return NewRegistry(NewPipeline(f, 0, nil), NewVariableStore(), RegistryConfig{
		Runtime:   RuntimeConfig{PollInterval: 5 * time.Millisecond, SettleWindow: 10 * time.Millisecond},
		MaxPanels: max,
		Observer:  obs,
	})
}

func appCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestRegistry_Lifecycle(t *testing.T) {
	f := newFakeFetcher()
	f.fallback = &external.Metadata{Percentiles: percentiles(0, 1)}
	obs := &recordingObserver{}
	reg := newTestRegistry(f, 2, obs)
	defer reg.Close()

	rt, err := reg.Create(Spec{}, Snapshot{"metric": {"mae"}})
	require.NoError(t, err)
	assert.Len(t, rt.ID(), 36, "generated ids are uuids")
	assert.Equal(t, ModeSingle, rt.State().Mode)

	_, err = reg.Create(Spec{ID: rt.ID()}, nil)
	assert.Equal(t, types.ErrCodeConflictPanelExists, appCode(t, err))

	_, err = reg.Create(Spec{ID: "second", Mode: ModeMulti}, nil)
	require.NoError(t, err)
	_, err = reg.Create(Spec{ID: "third"}, nil)
	assert.Equal(t, types.ErrCodeLimitPanels, appCode(t, err))

	_, err = reg.Create(Spec{ID: "bad", Mode: "sideways"}, nil)
	assert.Equal(t, types.ErrCodeValidationInvalidPanel, appCode(t, err))

	_, _, active := obs.snapshot()
	assert.Equal(t, 2, active)

	require.NoError(t, reg.SetVariables(rt.ID(), Snapshot{"metric": {"acc"}}))
	require.Eventually(t, func() bool { return rt.State().Metric.Metric == "acc" }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, types.ErrCodeNotFoundPanel, appCode(t, reg.SetVariables("nope", nil)))
	assert.Equal(t, types.ErrCodeNotFoundPanel, appCode(t, reg.Remove("nope")))

	require.NoError(t, reg.Remove("second"))
	_, ok := reg.Get("second")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())

	reg.Close()
	assert.Equal(t, 0, reg.Len())
	_, err = reg.Create(Spec{ID: "late"}, nil)
	assert.Error(t, err)
}
