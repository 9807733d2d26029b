// Package integration manages the configured metering points: it creates
// entries through the config flow, builds their sensors and keeps them
// updated.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/simpleelforbrug/elforbrug/pkg/consumption"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/sensor"
	"github.com/simpleelforbrug/elforbrug/pkg/storage"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// DefaultScanInterval is how often sensors are polled.
const DefaultScanInterval = 5 * time.Minute

var (
	ErrAlreadyConfigured = errors.New("metering point already configured")
	ErrEntryNotLoaded    = errors.New("entry not loaded")
)

type loadedEntry struct {
	entry   types.Entry
	data    *consumption.Data
	tariffs *consumption.Tariffs
	sensors []*sensor.Entity
}

// Manager owns the loaded entries and their sensors.
type Manager struct {
	db            storage.Database
	factory       *consumption.Factory
	publishers    []sensor.Publisher
	encryptionKey string
	scanInterval  time.Duration
	newID         func() string
	now           func() time.Time

	// serializes entry creation so duplicates can't slip in
	createMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]*loadedEntry
}

// Configured registers the integration flags and returns the Manager.
func Configured(db storage.Database, factory *consumption.Factory, publishers ...sensor.Publisher) *Manager {
	m := NewManager(db, factory, "", publishers...)
	scanInterval := lflag.Duration("scan-interval", DefaultScanInterval, "How often sensors are polled")
	encryptionKey := lflag.RequiredString("credentials-encryption-key", "Key for encrypting refresh tokens")

	lflag.Do(func() {
		if *scanInterval <= 0 {
			panic("scan-interval must be positive")
		}
		m.scanInterval = *scanInterval
		if len(*encryptionKey) != 32 {
			panic("credentials-encryption-key must be 32 characters")
		}
		m.encryptionKey = *encryptionKey
	})
	return m
}

// NewManager returns a Manager without registering flags.
func NewManager(db storage.Database, factory *consumption.Factory, encryptionKey string, publishers ...sensor.Publisher) *Manager {
	return &Manager{
		db:            db,
		factory:       factory,
		publishers:    publishers,
		encryptionKey: encryptionKey,
		scanInterval:  DefaultScanInterval,
		newID:         uuid.NewString,
		now:           time.Now,
		entries:       make(map[string]*loadedEntry),
	}
}

// Start loads every persisted entry. Entries that can't be loaded are logged
// and skipped.
func (m *Manager) Start(ctx context.Context) error {
	entries, err := m.db.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	for _, entry := range entries {
		ectx := log.WithMeteringPoint(ctx, entry.ID, entry.MeteringPoint)
		token, err := m.decryptRefreshToken(ectx, entry.EncryptedRefreshToken)
		if err != nil {
			log.Ctx(ectx).ErrorContext(ectx, "failed to load entry", slog.Any("error", err))
			continue
		}
		entry.RefreshToken = token
		if err := m.setup(ectx, entry); err != nil {
			log.Ctx(ectx).ErrorContext(ectx, "failed to set up entry", slog.Any("error", err))
			continue
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "loaded entries", slog.Int("count", len(m.Entries())))
	return nil
}

func (m *Manager) setup(ctx context.Context, entry types.Entry) error {
	data, tariffs := m.factory.New(entry)
	sensors, err := sensor.NewSet(entry, data, tariffs, m.db, m.publishers...)
	if err != nil {
		return err
	}
	for _, s := range sensors {
		s.Restore(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = &loadedEntry{
		entry:   entry,
		data:    data,
		tariffs: tariffs,
		sensors: sensors,
	}
	return nil
}

// Unload stops polling the entry's sensors. It reports whether the entry was
// loaded.
func (m *Manager) Unload(entryID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entryID]; !ok {
		return false
	}
	delete(m.entries, entryID)
	return true
}

// CreateEntry persists a new entry, sets it up and runs its first update.
func (m *Manager) CreateEntry(ctx context.Context, mp, refreshToken string, unit types.Unit) (types.Entry, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()
	if m.configured(mp) {
		return types.Entry{}, ErrAlreadyConfigured
	}

	encrypted, err := m.encryptRefreshToken(ctx, refreshToken)
	if err != nil {
		return types.Entry{}, err
	}
	entry := types.Entry{
		ID:                    m.newID(),
		Title:                 types.EntryTitle(mp),
		MeteringPoint:         mp,
		UnitOfMeasurement:     unit,
		CreatedAt:             m.now(),
		EncryptedRefreshToken: encrypted,
	}
	if err := m.db.SetEntry(ctx, entry); err != nil {
		return types.Entry{}, fmt.Errorf("failed to save entry: %w", err)
	}

	ctx = log.WithMeteringPoint(ctx, entry.ID, mp)
	log.Ctx(ctx).InfoContext(ctx, "created entry")

	entry.RefreshToken = refreshToken
	if err := m.setup(ctx, entry); err != nil {
		return types.Entry{}, err
	}
	// the first fetch counts against the throttle so it must outlive the request
	m.updateEntry(context.WithoutCancel(ctx), entry.ID)
	entry.RefreshToken = ""
	return entry, nil
}

func (m *Manager) configured(mp string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, le := range m.entries {
		if le.entry.MeteringPoint == mp {
			return true
		}
	}
	return false
}

// RemoveEntry unloads an entry and deletes it with its persisted states.
func (m *Manager) RemoveEntry(ctx context.Context, entryID string) error {
	if le, err := m.get(entryID); err == nil {
		m.Unload(entryID)
		// waits for a poll that already picked up the entry
		for _, s := range le.sensors {
			s.Close()
		}
		for _, p := range m.publishers {
			r, ok := p.(sensor.Remover)
			if !ok {
				continue
			}
			for _, s := range le.sensors {
				if err := r.Remove(ctx, s.UniqueID()); err != nil {
					log.Ctx(ctx).WarnContext(ctx, "failed to remove sensor", slog.String("uniqueID", s.UniqueID()), slog.Any("error", err))
				}
			}
		}
	}
	if err := m.db.DeleteEntry(ctx, entryID); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", entryID, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "removed entry", slog.String("entryID", entryID))
	return nil
}

// Entries returns the loaded entries ordered by creation time, without
// credentials.
func (m *Manager) Entries() []types.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]types.Entry, 0, len(m.entries))
	for _, le := range m.entries {
		e := le.entry
		e.RefreshToken = ""
		e.EncryptedRefreshToken = nil
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries
}

// Sensors returns a snapshot of every loaded sensor.
func (m *Manager) Sensors() []types.SensorSnapshot {
	var snaps []types.SensorSnapshot
	for _, le := range m.loaded() {
		for _, s := range le.sensors {
			snaps = append(snaps, s.Snapshot())
		}
	}
	return snaps
}

// Sensor returns the snapshot of the sensor with uniqueID.
func (m *Manager) Sensor(uniqueID string) (types.SensorSnapshot, bool) {
	for _, le := range m.loaded() {
		for _, s := range le.sensors {
			if s.UniqueID() == uniqueID {
				return s.Snapshot(), true
			}
		}
	}
	return types.SensorSnapshot{}, false
}

// loaded returns the loaded entries in creation order.
func (m *Manager) loaded() []*loadedEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*loadedEntry, 0, len(m.entries))
	for _, le := range m.entries {
		out = append(out, le)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].entry.CreatedAt.Before(out[j].entry.CreatedAt)
	})
	return out
}

func (m *Manager) get(entryID string) (*loadedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	le, ok := m.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotLoaded, entryID)
	}
	return le, nil
}

// UpdateEnergy forces a refresh from Eloverblik for entryID, or every entry
// when entryID is empty, and updates the sensors.
func (m *Manager) UpdateEnergy(ctx context.Context, entryID string) error {
	var targets []*loadedEntry
	if entryID == "" {
		targets = m.loaded()
	} else {
		le, err := m.get(entryID)
		if err != nil {
			return err
		}
		targets = []*loadedEntry{le}
	}

	// a forced fetch still counts against the throttle so it must outlive the
	// request
	ctx = context.WithoutCancel(ctx)
	for _, le := range targets {
		ectx := log.WithMeteringPoint(ctx, le.entry.ID, le.entry.MeteringPoint)
		log.Ctx(ectx).InfoContext(ectx, "forcing energy update")
		le.data.ForceUpdate(ectx)
		le.tariffs.ForceUpdate(ectx)
		m.updateSensors(ectx, le)
	}
	return nil
}

// SetUnit changes the unit of an entry's energy sensors and persists it.
func (m *Manager) SetUnit(ctx context.Context, entryID, unit string) error {
	u, err := types.ParseUnit(unit)
	if err != nil {
		return err
	}
	le, err := m.get(entryID)
	if err != nil {
		return err
	}

	m.mu.RLock()
	entry := le.entry
	m.mu.RUnlock()
	entry.UnitOfMeasurement = u

	if err := m.db.SetEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	m.mu.Lock()
	le.entry = entry
	m.mu.Unlock()
	le.data.SetUnit(u)

	ctx = log.WithMeteringPoint(ctx, entry.ID, entry.MeteringPoint)
	log.Ctx(ctx).InfoContext(ctx, "changed unit of measurement", slog.String("unit", string(u)))
	m.updateSensors(ctx, le)
	return nil
}

func (m *Manager) updateEntry(ctx context.Context, entryID string) {
	le, err := m.get(entryID)
	if err != nil {
		return
	}
	m.updateSensors(ctx, le)
}

func (m *Manager) updateSensors(ctx context.Context, le *loadedEntry) {
	for _, s := range le.sensors {
		s.Update(ctx)
	}
}

// Run polls every sensor each scan interval until ctx is canceled. The
// caches throttle how often Eloverblik is actually called.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		m.poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	for _, le := range m.loaded() {
		if ctx.Err() != nil {
			return
		}
		m.updateSensors(log.WithMeteringPoint(ctx, le.entry.ID, le.entry.MeteringPoint), le)
	}
	log.Ctx(ctx).DebugContext(ctx, "polled sensors")
}
