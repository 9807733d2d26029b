package server

import (
	"context"

	"github.com/simpleelforbrug/elforbrug/pkg/integration"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockManager struct {
	mock.Mock
}

func (m *mockManager) Entries() []types.Entry {
	args := m.Called()
	entries, _ := args.Get(0).([]types.Entry)
	return entries
}

func (m *mockManager) RemoveEntry(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *mockManager) Sensors() []types.SensorSnapshot {
	args := m.Called()
	sensors, _ := args.Get(0).([]types.SensorSnapshot)
	return sensors
}

func (m *mockManager) Sensor(uniqueID string) (types.SensorSnapshot, bool) {
	args := m.Called(uniqueID)
	return args.Get(0).(types.SensorSnapshot), args.Bool(1)
}

func (m *mockManager) UpdateEnergy(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *mockManager) SetUnit(ctx context.Context, entryID, unit string) error {
	args := m.Called(ctx, entryID, unit)
	return args.Error(0)
}

type mockFlow struct {
	mock.Mock
}

func (m *mockFlow) Step(ctx context.Context, input *integration.FlowInput) integration.FlowResult {
	args := m.Called(ctx, input)
	return args.Get(0).(integration.FlowResult)
}
