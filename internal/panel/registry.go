package panel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"evalmap/internal/types"

	"github.com/google/uuid"
)

// DefaultMaxPanels bounds a Registry created with MaxPanels <= 0.
const DefaultMaxPanels = 200

// RegistryConfig holds the settings shared by every runtime of a Registry.
type RegistryConfig struct {
	Runtime   RuntimeConfig
	MaxPanels int
	Observer  Observer
	Logger    *slog.Logger
}

// Registry maps panel ids to running runtimes. Runtimes outlive the request
// that created them; they run under the registry's own context until removed
// or the registry is closed.
type Registry struct {
	pipeline *Pipeline
	store    *VariableStore
	cfg      RegistryConfig
	logger   *slog.Logger
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	runtimes map[string]*Runtime
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(pipeline *Pipeline, store *VariableStore, cfg RegistryConfig) *Registry {
	if cfg.MaxPanels <= 0 {
		cfg.MaxPanels = DefaultMaxPanels
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		pipeline: pipeline,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		observer: cfg.Observer,
		ctx:      ctx,
		cancel:   cancel,
		runtimes: make(map[string]*Runtime),
	}
}

// Create registers and starts a panel. An empty spec.ID gets a generated
// one. Duplicate ids are a conflict; a full registry is a limit error.
func (r *Registry) Create(spec Spec, initial Snapshot) (*Runtime, error) {
	if spec.Mode == "" {
		spec.Mode = ModeSingle
	}
	if !spec.Mode.Valid() {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPanel,
			fmt.Sprintf("unknown panel mode %q", spec.Mode),
			nil,
			map[string]any{"mode": string(spec.Mode)},
		)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "panel registry is closed", nil)
	}
	if _, exists := r.runtimes[spec.ID]; exists {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeConflictPanelExists,
			"panel already exists",
			nil,
			map[string]any{"panel_id": spec.ID},
		)
	}
	if len(r.runtimes) >= r.cfg.MaxPanels {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeLimitPanels,
			"too many panels",
			nil,
			map[string]any{"max_panels": r.cfg.MaxPanels},
		)
	}

	r.store.Set(spec.ID, initial)
	rt := NewRuntime(spec, initial, r.store, r.pipeline, r.cfg.Runtime, r.observer, r.logger)
	r.runtimes[spec.ID] = rt
	r.observer.SetActivePanels(len(r.runtimes))
	rt.Start(r.ctx)

	r.logger.Info("panel created", "panel_id", spec.ID, "mode", string(spec.Mode))
	return rt, nil
}

// Get returns the runtime of id.
func (r *Registry) Get(id string) (*Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[id]
	return rt, ok
}

// SetVariables replaces the variables of id. The runtime picks them up on
// its next poll.
func (r *Registry) SetVariables(id string, snap Snapshot) error {
	if _, ok := r.Get(id); !ok {
		return notFound(id)
	}
	r.store.Set(id, snap)
	return nil
}

// Remove stops and forgets id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	rt, ok := r.runtimes[id]
	if ok {
		delete(r.runtimes, id)
		r.observer.SetActivePanels(len(r.runtimes))
	}
	r.mu.Unlock()

	if !ok {
		return notFound(id)
	}
	rt.Stop()
	r.store.Delete(id)
	r.logger.Info("panel removed", "panel_id", id)
	return nil
}

// Len returns the number of registered panels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runtimes)
}

// Close stops every runtime. Create fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	runtimes := make([]*Runtime, 0, len(r.runtimes))
	for id, rt := range r.runtimes {
		runtimes = append(runtimes, rt)
		delete(r.runtimes, id)
	}
	r.observer.SetActivePanels(0)
	r.mu.Unlock()

	r.cancel()
	for _, rt := range runtimes {
		rt.Stop()
		r.store.Delete(rt.ID())
	}
}

func notFound(id string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeNotFoundPanel,
		"panel not found",
		nil,
		map[string]any{"panel_id": id},
	)
}
