package consumption_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/simpleelforbrug/elforbrug/pkg/consumption"
	"github.com/simpleelforbrug/elforbrug/pkg/consumption/consumptionmock"
	"github.com/simpleelforbrug/elforbrug/pkg/eloverblik"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testMP = "571313174112345678"

func hours(v float64) []float64 {
	out := make([]float64, 24)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestData(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 10, 30, 0, 0, eloverblik.Location)
	day := func(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, eloverblik.Location) }

	series := []eloverblik.TimeSeries{
		consumptionmock.Day(testMP, day(10), hours(0.5)...),
		consumptionmock.Day(testMP, day(11), hours(1)...),
		consumptionmock.Day(testMP, day(12), hours(1)...),
		consumptionmock.Day(testMP, day(13), hours(1)...),
		consumptionmock.Day(testMP, day(14), 0.123, 0.456, 1.111),
	}
	year := consumptionmock.Year(testMP, 2026, map[time.Month]float64{time.January: 1234.567})

	newData := func(src *consumptionmock.MockSource, unit types.Unit) *consumption.Data {
		d := consumption.NewData(src, testMP, unit, time.Hour)
		consumption.SetDataNow(d, func() time.Time { return now })
		return d
	}

	t.Run("NoData", func(t *testing.T) {
		d := newData(&consumptionmock.MockSource{}, types.UnitKWh)
		_, ok := d.UsageHour(0)
		assert.False(t, ok)
		_, ok = d.TotalYear()
		assert.False(t, ok)
		_, ok = d.DataDate()
		assert.False(t, ok)
		assert.Equal(t, testMP, d.MeteringPoint())
	})

	t.Run("Update", func(t *testing.T) {
		src := &consumptionmock.MockSource{}
		// month start is before 8 days ago so the window is extended
		src.On("GetTimeSeries", mock.Anything, testMP, day(1), day(15), eloverblik.AggregationHour).Return(series, nil).Once()
		src.On("GetPerMonth", mock.Anything, testMP).Return(year, nil).Once()

		d := newData(src, types.UnitKWh)
		assert.True(t, d.Update(ctx))
		src.AssertExpectations(t)

		v, ok := d.UsageHour(1)
		require.True(t, ok)
		assert.Equal(t, 0.46, v)

		v, ok = d.UsageHour(23)
		require.True(t, ok, "missing hours still count as data")
		assert.Equal(t, 0.0, v)

		v, ok = d.UsageUpToHour(1)
		require.True(t, ok)
		assert.Equal(t, 0.58, v)

		date, ok := d.DataDate()
		require.True(t, ok)
		assert.Equal(t, "2026-01-14", date)

		total, ok := d.TotalYear()
		require.True(t, ok)
		assert.Equal(t, 1234.57, total)

		v, ok = d.DayTotal(day(11).Add(13 * time.Hour))
		require.True(t, ok)
		assert.Equal(t, 24.0, v)

		_, ok = d.DayTotal(day(9))
		assert.False(t, ok)
	})

	t.Run("Throttled", func(t *testing.T) {
		src := &consumptionmock.MockSource{}
		src.On("GetTimeSeries", mock.Anything, testMP, mock.Anything, mock.Anything, eloverblik.AggregationHour).Return(series, nil)
		src.On("GetPerMonth", mock.Anything, testMP).Return(year, nil)

		d := newData(src, types.UnitKWh)
		assert.True(t, d.Update(ctx))
		assert.False(t, d.Update(ctx))
		src.AssertNumberOfCalls(t, "GetTimeSeries", 1)
		assert.Equal(t, now, d.LastUpdate())

		assert.True(t, d.ForceUpdate(ctx))
		src.AssertNumberOfCalls(t, "GetTimeSeries", 2)

		now = now.Add(time.Hour)
		defer func() { now = now.Add(-time.Hour) }()
		assert.True(t, d.Update(ctx))
		src.AssertNumberOfCalls(t, "GetTimeSeries", 3)
		src.AssertNumberOfCalls(t, "GetPerMonth", 3)
	})

	t.Run("ErrorKeepsCache", func(t *testing.T) {
		src := &consumptionmock.MockSource{}
		src.On("GetTimeSeries", mock.Anything, testMP, mock.Anything, mock.Anything, eloverblik.AggregationHour).Return(series, nil).Once()
		src.On("GetPerMonth", mock.Anything, testMP).Return(year, nil).Once()
		src.On("GetTimeSeries", mock.Anything, testMP, mock.Anything, mock.Anything, eloverblik.AggregationHour).
			Return(nil, &eloverblik.HTTPError{StatusCode: http.StatusUnauthorized}).Once()
		src.On("GetPerMonth", mock.Anything, testMP).Return(nil, errors.New("connection reset")).Once()

		d := newData(src, types.UnitKWh)
		d.Update(ctx)
		before, _ := d.UsageHour(0)
		beforeTotal, _ := d.TotalYear()

		assert.True(t, d.ForceUpdate(ctx))
		src.AssertExpectations(t)

		after, ok := d.UsageHour(0)
		require.True(t, ok)
		assert.Equal(t, before, after)
		afterTotal, ok := d.TotalYear()
		require.True(t, ok)
		assert.Equal(t, beforeTotal, afterTotal)
	})

	t.Run("PartialFailure", func(t *testing.T) {
		src := &consumptionmock.MockSource{}
		src.On("GetTimeSeries", mock.Anything, testMP, mock.Anything, mock.Anything, eloverblik.AggregationHour).
			Return(nil, &eloverblik.HTTPError{StatusCode: http.StatusServiceUnavailable})
		src.On("GetPerMonth", mock.Anything, testMP).Return(year, nil)

		d := newData(src, types.UnitKWh)
		d.Update(ctx)
		_, ok := d.UsageHour(0)
		assert.False(t, ok)
		_, ok = d.TotalYear()
		assert.True(t, ok, "year data is fetched independently of day data")
	})

	t.Run("MWh", func(t *testing.T) {
		src := &consumptionmock.MockSource{}
		src.On("GetTimeSeries", mock.Anything, testMP, mock.Anything, mock.Anything, eloverblik.AggregationHour).Return(series, nil)
		src.On("GetPerMonth", mock.Anything, testMP).Return(year, nil)

		d := newData(src, types.UnitMWh)
		d.Update(ctx)

		total, _ := d.TotalYear()
		assert.Equal(t, 1.235, total)

		v, _ := d.DayTotal(day(11))
		assert.Equal(t, 0.024, v)

		// 0.123 and 0.456 kWh would each round to 0 MWh on their own
		v, _ = d.UsageUpToHour(1)
		assert.Equal(t, 0.001, v)
		assert.Equal(t, 0.086, d.MonthTotal(now))

		d.SetUnit(types.UnitKWh)
		assert.Equal(t, types.UnitKWh, d.Unit())
		total, _ = d.TotalYear()
		assert.Equal(t, 1234.57, total, "conversion happens at read time")
	})

	t.Run("WeekSummary", func(t *testing.T) {
		src := &consumptionmock.MockSource{}
		src.On("GetTimeSeries", mock.Anything, testMP, mock.Anything, mock.Anything, eloverblik.AggregationHour).Return(series, nil)
		src.On("GetPerMonth", mock.Anything, testMP).Return(year, nil)

		d := newData(src, types.UnitKWh)
		d.Update(ctx)

		week := d.WeekSummary(now)
		require.Len(t, week, 7)
		require.NotNil(t, week[1])
		assert.Equal(t, 1.69, *week[1])
		require.NotNil(t, week[5])
		assert.Equal(t, 12.0, *week[5])
		assert.Nil(t, week[6])
		assert.Nil(t, week[7])
	})

	t.Run("MonthTotal", func(t *testing.T) {
		src := &consumptionmock.MockSource{}
		src.On("GetTimeSeries", mock.Anything, testMP, mock.Anything, mock.Anything, eloverblik.AggregationHour).Return(series, nil)
		src.On("GetPerMonth", mock.Anything, testMP).Return(year, nil)

		d := newData(src, types.UnitKWh)
		assert.Equal(t, 0.0, d.MonthTotal(now))
		d.Update(ctx)

		assert.InDelta(t, 85.69, d.MonthTotal(now), 0.0001)
		assert.Equal(t, 0.0, d.MonthTotal(now.AddDate(0, 1, 0)), "no data for next month")
	})
}
