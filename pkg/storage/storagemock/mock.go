package storagemock

import (
	"context"

	"github.com/simpleelforbrug/elforbrug/pkg/storage"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) ListEntries(ctx context.Context) ([]types.Entry, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		entries, _ := args.Get(0).([]types.Entry)
		return entries, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetEntry(ctx context.Context, entryID string) (types.Entry, error) {
	args := m.Called(ctx, entryID)
	if len(args) > 0 {
		return args.Get(0).(types.Entry), args.Error(1)
	}
	return types.Entry{}, nil
}

func (m *MockDatabase) SetEntry(ctx context.Context, entry types.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDatabase) DeleteEntry(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *MockDatabase) GetSensorState(ctx context.Context, entryID, uniqueID string) (types.SensorState, error) {
	args := m.Called(ctx, entryID, uniqueID)
	if len(args) > 0 {
		return args.Get(0).(types.SensorState), args.Error(1)
	}
	return types.SensorState{}, storage.ErrStateNotFound
}

func (m *MockDatabase) SetSensorState(ctx context.Context, state types.SensorState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
