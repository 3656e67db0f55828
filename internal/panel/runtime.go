package panel

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"evalmap/internal/dataset"
)

// Mode selects the kind of panel.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeSingle || m == ModeMulti
}

// Spec describes a panel to create.
type Spec struct {
	ID   string `json:"id"`
	Mode Mode   `json:"mode"`
	// Family is the dataset family of a single-map panel.
	Family string `json:"dataset_family,omitempty"`
	// Products are the rows of a multi-map panel.
	Products []Product `json:"products,omitempty"`
}

// State is a point-in-time copy of a panel's derived state.
type State struct {
	ID         string     `json:"id"`
	Mode       Mode       `json:"mode"`
	Status     Status     `json:"status"`
	Generation uint64     `json:"generation"`
	Pending    bool       `json:"pending"`
	Variables  Snapshot   `json:"variables"`
	Metric     MetricInfo `json:"metric"`
	Layer      *Layer     `json:"layer,omitempty"`
	Grid       *Grid      `json:"grid,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Observer receives runtime events for metrics.
type Observer interface {
	ObserveRefresh(mode, outcome string, elapsed time.Duration)
	ObserveDebounceCommit()
	SetActivePanels(n int)
}

// Refresh outcomes beyond the Status values.
const (
	OutcomeCanceled = "canceled"
	OutcomeStale    = "stale"
)

type noopObserver struct{}

func (noopObserver) ObserveRefresh(string, string, time.Duration) {}
func (noopObserver) ObserveDebounceCommit()                       {}
func (noopObserver) SetActivePanels(int)                          {}

// RuntimeConfig tunes a Runtime.
type RuntimeConfig struct {
	PollInterval time.Duration
	SettleWindow time.Duration
}

// Runtime drives one panel: it polls the variable source, debounces
// changes, and applies refresh results whose token is still current.
type Runtime struct {
	spec     Spec
	source   VariableSource
	pipeline *Pipeline
	observer Observer
	logger   *slog.Logger
	poll     time.Duration
	now      func() time.Time

	mu        sync.Mutex
	debouncer *Debouncer
	token     uint64
	cancel    context.CancelFunc
	state     State
	started   bool

	inflight sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewRuntime creates a stopped runtime whose committed variables are
// initial.
func NewRuntime(spec Spec, initial Snapshot, source VariableSource, pipeline *Pipeline, cfg RuntimeConfig, observer Observer, logger *slog.Logger) *Runtime {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SettleWindow < 0 {
		cfg.SettleWindow = DefaultSettleWindow
	}
	if spec.Mode == ModeMulti && len(spec.Products) == 0 {
		spec.Products = slices.Clone(DefaultProducts)
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		spec:      spec,
		source:    source,
		pipeline:  pipeline,
		observer:  observer,
		logger:    logger.With("panel_id", spec.ID, "mode", string(spec.Mode)),
		poll:      cfg.PollInterval,
		now:       time.Now,
		debouncer: NewDebouncer(initial, cfg.SettleWindow),
		state: State{
			ID:        spec.ID,
			Mode:      spec.Mode,
			Status:    StatusPending,
			Variables: initial.Clone(),
		},
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ID returns the panel id.
func (r *Runtime) ID() string { return r.spec.ID }

// Start runs the initial refresh and the polling loop until ctx ends or
// Stop is called. Calling Start more than once has no effect.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	initial := r.debouncer.Committed()
	r.mu.Unlock()

	r.startRefresh(ctx, initial)
	go r.loop(ctx)
}

func (r *Runtime) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.Tick(ctx, now)
		}
	}
}

// Tick samples the variable source once. It starts a refresh and returns
// true when a change has settled.
func (r *Runtime) Tick(ctx context.Context, now time.Time) bool {
	snap, ok := r.source.Snapshot(r.spec.ID)
	if !ok {
		return false
	}

	r.mu.Lock()
	committed, fire := r.debouncer.Observe(now, snap)
	r.state.Pending = r.debouncer.State() == StatePending
	r.mu.Unlock()
	if !fire {
		return false
	}

	r.observer.ObserveDebounceCommit()
	r.logger.DebugContext(ctx, "variables settled", "variables", committed.Signature())
	r.startRefresh(ctx, committed)
	return true
}

// startRefresh supersedes any in-flight refresh and runs a new one for snap
// in the background.
func (r *Runtime) startRefresh(parent context.Context, snap Snapshot) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.token++
	token := r.token
	r.cancel = cancel
	r.inflight.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.inflight.Done()
		defer cancel()
		r.refresh(ctx, token, snap)
	}()
}

func (r *Runtime) refresh(ctx context.Context, token uint64, snap Snapshot) {
	start := time.Now()
	vars := snap.Variables()

	var (
		layer  *Layer
		grid   *Grid
		status Status
		metric MetricInfo
		err    error
	)
	switch r.spec.Mode {
	case ModeMulti:
		var g Grid
		weeks := dataset.LeadWeeks(dataset.ParseMaxLead(vars.Get("max_lead", ""), DefaultMaxLead))
		g, err = r.pipeline.BuildGrid(ctx, vars, r.spec.Products, weeks)
		grid, status = &g, g.Status
		metric = DescribeMetric(vars.Get("metric", ""), "")
	default:
		var l Layer
		params := SingleParams(vars, r.spec.Family)
		l, err = r.pipeline.BuildLayer(ctx, params, vars.Get("vmin", ""), vars.Get("vmax", ""))
		layer, status = &l, l.Status
		metric = DescribeMetric(params.Metric, params.Product)
	}
	elapsed := time.Since(start)

	if err != nil {
		r.observer.ObserveRefresh(string(r.spec.Mode), OutcomeCanceled, elapsed)
		r.logger.DebugContext(ctx, "refresh abandoned", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if token != r.token {
		r.observer.ObserveRefresh(string(r.spec.Mode), OutcomeStale, elapsed)
		return
	}
	r.state.Status = status
	r.state.Generation++
	r.state.Variables = snap
	r.state.Metric = metric
	r.state.Layer = layer
	r.state.Grid = grid
	r.state.UpdatedAt = r.now()
	r.observer.ObserveRefresh(string(r.spec.Mode), string(status), elapsed)
}

// State returns a copy of the panel state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.Variables = r.state.Variables.Clone()
	if r.state.Layer != nil {
		l := *r.state.Layer
		s.Layer = &l
	}
	if r.state.Grid != nil {
		g := Grid{
			Rows:   slices.Clone(r.state.Grid.Rows),
			Cells:  slices.Clone(r.state.Grid.Cells),
			Status: r.state.Grid.Status,
		}
		s.Grid = &g
	}
	return s
}

// Wait blocks until no refresh is in flight.
func (r *Runtime) Wait() {
	r.inflight.Wait()
}

// Stop ends the polling loop, cancels any in-flight refresh, and waits for
// it to return.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.inflight.Wait()
}
