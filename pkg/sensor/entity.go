package sensor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/storage"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// StateStore persists the last state of a sensor across restarts.
type StateStore interface {
	GetSensorState(ctx context.Context, entryID, uniqueID string) (types.SensorState, error)
	SetSensorState(ctx context.Context, state types.SensorState) error
}

// Publisher receives a snapshot every time a sensor is updated.
type Publisher interface {
	Publish(ctx context.Context, snap types.SensorSnapshot) error
}

// Remover is implemented by publishers that need to know when a sensor is
// removed for good.
type Remover interface {
	Remove(ctx context.Context, uniqueID string) error
}

// states Home Assistant writes when it has no value
var unavailableStates = map[string]bool{
	"":            true,
	"unknown":     true,
	"unavailable": true,
}

// Entity is a single sensor of an entry.
type Entity struct {
	entryID     string
	uniqueID    string
	coordinator *Coordinator
	store       StateStore
	publishers  []Publisher
	now         func() time.Time

	// held for the whole of Update so Close can wait on it
	updateMu sync.Mutex
	closed   bool

	mu          sync.RWMutex
	state       float64
	attributes  map[string]any
	lastUpdated time.Time
}

// NewEntity wraps coordinator as a sensor of entryID. store may be nil.
func NewEntity(entryID string, coordinator *Coordinator, store StateStore, publishers ...Publisher) *Entity {
	return &Entity{
		entryID:     entryID,
		uniqueID:    types.SensorUniqueID(coordinator.data.MeteringPoint(), coordinator.desc.Kind),
		coordinator: coordinator,
		store:       store,
		publishers:  publishers,
		now:         time.Now,
	}
}

// UniqueID returns the stable id of the sensor.
func (e *Entity) UniqueID() string {
	return e.uniqueID
}

// EntryID returns the id of the entry the sensor belongs to.
func (e *Entity) EntryID() string {
	return e.entryID
}

// Kind returns the sensor kind.
func (e *Entity) Kind() types.SensorKind {
	return e.coordinator.desc.Kind
}

// Restore initializes the state from the last persisted one, falling back to
// whatever the cache currently holds.
func (e *Entity) Restore(ctx context.Context) {
	state, attrs := e.coordinator.Compute()

	if e.store != nil {
		last, err := e.store.GetSensorState(ctx, e.entryID, e.uniqueID)
		switch {
		case err == nil:
			if v, ok := parseState(last.State); ok {
				state = v
			} else {
				log.Ctx(ctx).DebugContext(ctx, "ignoring restored state", slog.String("uniqueID", e.uniqueID), slog.String("state", last.State))
			}
		case errors.Is(err, storage.ErrStateNotFound):
		default:
			log.Ctx(ctx).WarnContext(ctx, "failed to restore sensor state", slog.String("uniqueID", e.uniqueID), slog.Any("error", err))
		}
	}

	e.mu.Lock()
	e.state = types.Round(state, 3)
	e.attributes = attrs
	e.mu.Unlock()
}

// Update refreshes the caches (throttled), adopts the new state, persists it
// and publishes a snapshot. Failures are logged only. It does nothing once the
// entity is closed.
func (e *Entity) Update(ctx context.Context) {
	e.updateMu.Lock()
	defer e.updateMu.Unlock()
	if e.closed {
		return
	}

	e.coordinator.Refresh(ctx)
	state, attrs := e.coordinator.Compute()
	now := e.now()

	e.mu.Lock()
	e.state = types.Round(state, 3)
	e.attributes = attrs
	e.lastUpdated = now
	e.mu.Unlock()

	snap := e.Snapshot()
	if e.store != nil {
		err := e.store.SetSensorState(ctx, types.SensorState{
			EntryID:   e.entryID,
			UniqueID:  e.uniqueID,
			State:     strconv.FormatFloat(snap.State, 'f', -1, 64),
			Timestamp: now,
		})
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist sensor state", slog.String("uniqueID", e.uniqueID), slog.Any("error", err))
		}
	}
	for _, p := range e.publishers {
		if err := p.Publish(ctx, snap); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish sensor state", slog.String("uniqueID", e.uniqueID), slog.Any("error", err))
		}
	}
}

// Close stops the entity from persisting or publishing any further state. It
// blocks until an Update in progress has finished.
func (e *Entity) Close() {
	e.updateMu.Lock()
	defer e.updateMu.Unlock()
	e.closed = true
}

// Snapshot returns the externally visible state of the sensor.
func (e *Entity) Snapshot() types.SensorSnapshot {
	desc := e.coordinator.Description()

	e.mu.RLock()
	defer e.mu.RUnlock()
	attrs := make(map[string]any, len(e.attributes))
	for k, v := range e.attributes {
		attrs[k] = v
	}
	return types.SensorSnapshot{
		EntryID:       e.entryID,
		MeteringPoint: e.coordinator.data.MeteringPoint(),
		UniqueID:      e.uniqueID,
		Kind:          desc.Kind,
		Name:          desc.Name,
		State:         e.state,
		Unit:          e.coordinator.Unit(),
		Icon:          desc.Icon,
		Attributes:    attrs,
		LastUpdated:   e.lastUpdated,
	}
}

func parseState(s string) (float64, bool) {
	if unavailableStates[s] {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
