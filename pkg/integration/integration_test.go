package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/simpleelforbrug/elforbrug/pkg/consumption"
	"github.com/simpleelforbrug/elforbrug/pkg/consumption/consumptionmock"
	"github.com/simpleelforbrug/elforbrug/pkg/eloverblik"
	"github.com/simpleelforbrug/elforbrug/pkg/storage"
	"github.com/simpleelforbrug/elforbrug/pkg/storage/storagemock"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testKey = "01234567890123456789012345678901"
	testMP  = "571313174112345678"
	otherMP = "571313174187654321"
)

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []types.SensorSnapshot
}

func (p *recordingPublisher) Publish(ctx context.Context, snap types.SensorSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

// newTestSource answers every call whose context matches ctxArg.
func newTestSource(ctxArg any) *consumptionmock.MockSource {
	today := eloverblik.Date(time.Now())
	src := &consumptionmock.MockSource{}
	src.On("GetTimeSeries", ctxArg, mock.Anything, mock.Anything, mock.Anything, eloverblik.AggregationHour).Return([]eloverblik.TimeSeries{
		consumptionmock.Day(testMP, today.AddDate(0, 0, -1), 1, 2, 3),
	}, nil)
	src.On("GetPerMonth", ctxArg, mock.Anything).Return(consumptionmock.Year(testMP, today.Year(), map[time.Month]float64{
		today.Month(): 1500,
	}), nil)
	src.On("GetTariffs", ctxArg, mock.Anything).Return(eloverblik.Charges{"elafgift": 0.7}, nil)
	return src
}

type testEnv struct {
	manager *Manager
	flow    *ConfigFlow
	src     *consumptionmock.MockSource
	pub     *recordingPublisher
	tokens  []string
}

func newTestEnv(t *testing.T, db storage.Database) *testEnv {
	env := &testEnv{
		src: newTestSource(mock.Anything),
		pub: &recordingPublisher{},
	}
	factory := consumption.NewFactory("http://eloverblik.invalid", time.Hour)
	factory.NewSource = func(refreshToken string) consumption.Source {
		env.tokens = append(env.tokens, refreshToken)
		return env.src
	}

	m := NewManager(db, factory, testKey, env.pub)
	var n int
	m.newID = func() string {
		n++
		return fmt.Sprintf("entry-%d", n)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		return start.Add(time.Duration(n) * time.Second)
	}
	env.manager = m
	env.flow = NewConfigFlow(m)
	return env
}

func TestConfigFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("Form", func(t *testing.T) {
		env := newTestEnv(t, storage.NewMemory())
		res := env.flow.Step(ctx, nil)
		assert.Equal(t, ResultForm, res.Type)
		assert.Equal(t, "user", res.StepID)
		assert.Empty(t, res.Errors)
		require.Len(t, res.DataSchema, 3)
		assert.Equal(t, "refresh_token", res.DataSchema[0].Name)
		assert.Equal(t, "metering_point", res.DataSchema[1].Name)
		assert.Equal(t, "kWh", res.DataSchema[2].Default)
	})

	t.Run("InvalidMeteringPoint", func(t *testing.T) {
		env := newTestEnv(t, storage.NewMemory())
		for _, mp := range []string{"", "12345", "57131317411234567X", " 57131317411234567"} {
			res := env.flow.Step(ctx, &FlowInput{RefreshToken: "token", MeteringPoint: mp})
			assert.Equal(t, ResultForm, res.Type, mp)
			assert.Equal(t, ErrorInvalidMeteringPoint, res.Errors["base"], mp)
		}
		assert.Empty(t, env.manager.Entries())
	})

	t.Run("UnknownUnit", func(t *testing.T) {
		env := newTestEnv(t, storage.NewMemory())
		res := env.flow.Step(ctx, &FlowInput{RefreshToken: "token", MeteringPoint: testMP, UnitOfMeasurement: "Wh"})
		assert.Equal(t, ErrorUnknown, res.Errors["base"])
	})

	t.Run("StorageFailure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("SetEntry", mock.Anything, mock.Anything).Return(errors.New("unavailable"))
		env := newTestEnv(t, db)
		res := env.flow.Step(ctx, &FlowInput{RefreshToken: "token", MeteringPoint: testMP})
		assert.Equal(t, ErrorUnknown, res.Errors["base"])
		assert.Empty(t, env.manager.Entries())
	})

	t.Run("CreateEntry", func(t *testing.T) {
		db := storage.NewMemory()
		env := newTestEnv(t, db)
		res := env.flow.Step(ctx, &FlowInput{RefreshToken: " token ", MeteringPoint: testMP, UnitOfMeasurement: "MWh"})
		require.Equal(t, ResultCreateEntry, res.Type, res.Errors)
		assert.Equal(t, "Simple Elforbrug. Meter point: "+testMP, res.Title)
		require.NotNil(t, res.Entry)
		assert.Equal(t, "entry-1", res.Entry.ID)
		assert.Empty(t, res.Entry.RefreshToken)
		assert.Empty(t, res.Entry.EncryptedRefreshToken)
		assert.Equal(t, types.UnitMWh, res.Entry.UnitOfMeasurement)

		saved, err := db.GetEntry(ctx, "entry-1")
		require.NoError(t, err)
		assert.Empty(t, saved.RefreshToken)
		token, err := env.manager.decryptRefreshToken(ctx, saved.EncryptedRefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "token", token)
		assert.Equal(t, []string{"token"}, env.tokens)

		// the first update runs right away
		assert.Len(t, env.manager.Sensors(), 4)
		assert.Equal(t, 4, env.pub.count())
		env.src.AssertNumberOfCalls(t, "GetTimeSeries", 1)
		env.src.AssertNumberOfCalls(t, "GetTariffs", 1)

		res = env.flow.Step(ctx, &FlowInput{RefreshToken: "token", MeteringPoint: testMP})
		assert.Equal(t, ErrorAlreadyConfigured, res.Errors["base"])
	})
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("Start", func(t *testing.T) {
		db := storage.NewMemory()
		first := newTestEnv(t, db)
		_, err := first.manager.CreateEntry(ctx, testMP, "secret", types.UnitKWh)
		require.NoError(t, err)
		require.NoError(t, db.SetEntry(ctx, types.Entry{
			ID:                    "broken",
			MeteringPoint:         otherMP,
			EncryptedRefreshToken: []byte("garbage"),
		}))

		env := newTestEnv(t, db)
		require.NoError(t, env.manager.Start(ctx))
		entries := env.manager.Entries()
		require.Len(t, entries, 1, "entries that can't be decrypted are skipped")
		assert.Equal(t, "entry-1", entries[0].ID)
		assert.Empty(t, entries[0].EncryptedRefreshToken)
		assert.Equal(t, []string{"secret"}, env.tokens)

		// restored from the state persisted by the first manager
		snap, ok := env.manager.Sensor(testMP + "-total")
		require.True(t, ok)
		assert.Equal(t, 1500.0, snap.State)
		env.src.AssertNotCalled(t, "GetTimeSeries", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("StartListFailure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("ListEntries", mock.Anything).Return(nil, errors.New("unavailable"))
		env := newTestEnv(t, db)
		assert.Error(t, env.manager.Start(ctx))
	})

	t.Run("UpdateEnergy", func(t *testing.T) {
		env := newTestEnv(t, storage.NewMemory())
		_, err := env.manager.CreateEntry(ctx, testMP, "token", types.UnitKWh)
		require.NoError(t, err)
		_, err = env.manager.CreateEntry(ctx, otherMP, "token2", types.UnitKWh)
		require.NoError(t, err)
		env.src.AssertNumberOfCalls(t, "GetTimeSeries", 2)

		require.NoError(t, env.manager.UpdateEnergy(ctx, "entry-1"))
		env.src.AssertNumberOfCalls(t, "GetTimeSeries", 3)
		env.src.AssertNumberOfCalls(t, "GetTariffs", 3)

		require.NoError(t, env.manager.UpdateEnergy(ctx, ""))
		env.src.AssertNumberOfCalls(t, "GetTimeSeries", 5)

		err = env.manager.UpdateEnergy(ctx, "missing")
		assert.ErrorIs(t, err, ErrEntryNotLoaded)
	})

	t.Run("CanceledRequest", func(t *testing.T) {
		env := newTestEnv(t, storage.NewMemory())
		env.src = newTestSource(mock.MatchedBy(func(ctx context.Context) bool {
			return ctx.Err() == nil
		}))
		reqCtx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := env.manager.CreateEntry(reqCtx, testMP, "token", types.UnitKWh)
		require.NoError(t, err)
		env.src.AssertNumberOfCalls(t, "GetTimeSeries", 1)
		total, ok := env.manager.Sensor(testMP + "-total")
		require.True(t, ok)
		assert.Equal(t, 1500.0, total.State)

		require.NoError(t, env.manager.UpdateEnergy(reqCtx, "entry-1"))
		env.src.AssertNumberOfCalls(t, "GetTimeSeries", 2)
		env.src.AssertNumberOfCalls(t, "GetTariffs", 2)
	})

	t.Run("SetUnitSaveFailure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("SetEntry", mock.Anything, mock.Anything).Return(nil).Once()
		db.On("SetEntry", mock.Anything, mock.Anything).Return(errors.New("unavailable")).Once()
		db.On("GetSensorState", mock.Anything, mock.Anything, mock.Anything).Return(types.SensorState{}, storage.ErrStateNotFound)
		db.On("SetSensorState", mock.Anything, mock.Anything).Return(nil)

		env := newTestEnv(t, db)
		_, err := env.manager.CreateEntry(ctx, testMP, "token", types.UnitKWh)
		require.NoError(t, err)

		assert.Error(t, env.manager.SetUnit(ctx, "entry-1", "MWh"))
		db.AssertExpectations(t)

		entries := env.manager.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, types.UnitKWh, entries[0].UnitOfMeasurement)
		total, ok := env.manager.Sensor(testMP + "-total")
		require.True(t, ok)
		assert.Equal(t, types.UnitKWh, total.Unit)
		assert.Equal(t, 1500.0, total.State)
	})

	t.Run("SetUnit", func(t *testing.T) {
		db := storage.NewMemory()
		env := newTestEnv(t, db)
		_, err := env.manager.CreateEntry(ctx, testMP, "token", types.UnitKWh)
		require.NoError(t, err)

		require.NoError(t, env.manager.SetUnit(ctx, "entry-1", "MWh"))
		saved, err := db.GetEntry(ctx, "entry-1")
		require.NoError(t, err)
		assert.Equal(t, types.UnitMWh, saved.UnitOfMeasurement)
		assert.NotEmpty(t, saved.EncryptedRefreshToken)

		total, ok := env.manager.Sensor(testMP + "-total")
		require.True(t, ok)
		assert.Equal(t, types.UnitMWh, total.Unit)
		assert.Equal(t, 1.5, total.State)

		tariff, ok := env.manager.Sensor(testMP + "-tariff")
		require.True(t, ok)
		assert.Equal(t, types.UnitDKKPerKWh, tariff.Unit)

		assert.Error(t, env.manager.SetUnit(ctx, "entry-1", "GWh"))
		assert.ErrorIs(t, env.manager.SetUnit(ctx, "missing", "kWh"), ErrEntryNotLoaded)
	})

	t.Run("RemoveEntry", func(t *testing.T) {
		db := storage.NewMemory()
		env := newTestEnv(t, db)
		_, err := env.manager.CreateEntry(ctx, testMP, "token", types.UnitKWh)
		require.NoError(t, err)

		require.NoError(t, env.manager.RemoveEntry(ctx, "entry-1"))
		assert.Empty(t, env.manager.Entries())
		assert.Empty(t, env.manager.Sensors())
		_, err = db.GetEntry(ctx, "entry-1")
		assert.ErrorIs(t, err, storage.ErrEntryNotFound)

		assert.ErrorIs(t, env.manager.RemoveEntry(ctx, "entry-1"), storage.ErrEntryNotFound)
		assert.False(t, env.manager.Unload("entry-1"))
	})

	t.Run("UpdateAfterRemove", func(t *testing.T) {
		db := storage.NewMemory()
		env := newTestEnv(t, db)
		_, err := env.manager.CreateEntry(ctx, testMP, "token", types.UnitKWh)
		require.NoError(t, err)
		// a poll that took its snapshot before the removal
		le, err := env.manager.get("entry-1")
		require.NoError(t, err)
		published := env.pub.count()

		require.NoError(t, env.manager.RemoveEntry(ctx, "entry-1"))
		for _, s := range le.sensors {
			s.Update(ctx)
		}

		assert.Equal(t, published, env.pub.count())
		_, err = db.GetSensorState(ctx, "entry-1", testMP+"-daily")
		assert.ErrorIs(t, err, storage.ErrStateNotFound)
	})

	t.Run("Run", func(t *testing.T) {
		env := newTestEnv(t, storage.NewMemory())
		_, err := env.manager.CreateEntry(ctx, testMP, "token", types.UnitKWh)
		require.NoError(t, err)
		env.manager.scanInterval = time.Millisecond

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- env.manager.Run(runCtx) }()

		assert.Eventually(t, func() bool {
			return env.pub.count() >= 12
		}, time.Second, time.Millisecond)
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancel")
		}
		// polling doesn't bypass the throttle
		env.src.AssertNumberOfCalls(t, "GetTimeSeries", 1)
	})
}
