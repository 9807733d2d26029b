package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// Memory is a Database that only lives as long as the process. It's meant
// for development and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]types.Entry
	states  map[string]types.SensorState
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty in-memory Database.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]types.Entry),
		states:  make(map[string]types.SensorState),
	}
}

func (m *Memory) ListEntries(ctx context.Context) ([]types.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]types.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (m *Memory) GetEntry(ctx context.Context, entryID string) (types.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return types.Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return e, nil
}

func (m *Memory) SetEntry(ctx context.Context, entry types.Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("entryID cannot be empty")
	}
	// plaintext tokens are never stored, same as firestore
	entry.RefreshToken = ""
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
	return nil
}

func (m *Memory) DeleteEntry(ctx context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entryID]; !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	delete(m.entries, entryID)
	for k, s := range m.states {
		if s.EntryID == entryID {
			delete(m.states, k)
		}
	}
	return nil
}

func (m *Memory) GetSensorState(ctx context.Context, entryID, uniqueID string) (types.SensorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[entryID+"/"+uniqueID]
	if !ok {
		return types.SensorState{}, ErrStateNotFound
	}
	return s, nil
}

func (m *Memory) SetSensorState(ctx context.Context, state types.SensorState) error {
	if state.EntryID == "" || state.UniqueID == "" {
		return fmt.Errorf("sensor state needs an entryID and uniqueID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.EntryID+"/"+state.UniqueID] = state
	return nil
}

func (m *Memory) Close() error {
	return nil
}
