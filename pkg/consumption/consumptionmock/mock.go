package consumptionmock

import (
	"context"
	"time"

	"github.com/simpleelforbrug/elforbrug/pkg/consumption"
	"github.com/simpleelforbrug/elforbrug/pkg/eloverblik"
	"github.com/stretchr/testify/mock"
)

// MockSource is a testify mock of consumption.Source.
type MockSource struct {
	mock.Mock
}

var _ consumption.Source = (*MockSource)(nil)

func (m *MockSource) GetTimeSeries(ctx context.Context, mp string, from, to time.Time, agg eloverblik.Aggregation) ([]eloverblik.TimeSeries, error) {
	args := m.Called(ctx, mp, from, to, agg)
	series, _ := args.Get(0).([]eloverblik.TimeSeries)
	return series, args.Error(1)
}

func (m *MockSource) GetPerMonth(ctx context.Context, mp string) (eloverblik.YearData, error) {
	args := m.Called(ctx, mp)
	year, _ := args.Get(0).(eloverblik.YearData)
	return year, args.Error(1)
}

func (m *MockSource) GetTariffs(ctx context.Context, mp string) (eloverblik.Charges, error) {
	args := m.Called(ctx, mp)
	charges, _ := args.Get(0).(eloverblik.Charges)
	return charges, args.Error(1)
}

// Day builds an hourly series for the Copenhagen calendar day of date.
func Day(mp string, date time.Time, hourly ...float64) eloverblik.TimeSeries {
	s := eloverblik.NewTimeSeries(mp, eloverblik.Date(date), hourly)
	s.Resolution = "PT1H"
	return s
}

// Year builds a year aggregate from month totals.
func Year(mp string, year int, months map[time.Month]float64) eloverblik.YearData {
	return eloverblik.YearData{
		MeteringPoint: mp,
		Year:          year,
		Months:        months,
	}
}
