package eloverblik

import (
	"sort"
	"time"
)

// Aggregation is the resolution of a time series request.
type Aggregation string

const (
	AggregationHour  Aggregation = "Hour"
	AggregationDay   Aggregation = "Day"
	AggregationMonth Aggregation = "Month"
	AggregationYear  Aggregation = "Year"
)

// TimeSeries is one period of readings, typically a single day of hourly
// values. Readings are in kWh.
type TimeSeries struct {
	MeteringPoint string
	Resolution    string

	// DataDate is the local (Copenhagen) start of the period.
	DataDate time.Time

	values []float64
}

// NewTimeSeries creates a series starting at dataDate with the given values.
func NewTimeSeries(meteringPoint string, dataDate time.Time, values []float64) TimeSeries {
	return TimeSeries{
		MeteringPoint: meteringPoint,
		DataDate:      dataDate,
		values:        append([]float64(nil), values...),
	}
}

// MeteringData returns the reading at the 0-based index i. For hourly series
// this is the local hour of the day, so on the day clocks go back the repeated
// hour holds both readings.
func (ts TimeSeries) MeteringData(i int) (float64, error) {
	if i < 0 || i >= len(ts.values) {
		return 0, ErrNoReading
	}
	return ts.values[i], nil
}

// Len is the number of readings in the series.
func (ts TimeSeries) Len() int {
	return len(ts.values)
}

// Total is the sum of every reading in the series.
func (ts TimeSeries) Total() float64 {
	var total float64
	for _, v := range ts.values {
		total += v
	}
	return total
}

// YearData is a month-aggregated series for a calendar year.
type YearData struct {
	MeteringPoint string
	Year          int
	Months        map[time.Month]float64
}

// TotalMeteringData is the consumption for the whole year so far.
func (y YearData) TotalMeteringData() float64 {
	var total float64
	for _, v := range y.Months {
		total += v
	}
	return total
}

// Month returns the consumption for m and whether it is known.
func (y YearData) Month(m time.Month) (float64, bool) {
	v, ok := y.Months[m]
	return v, ok
}

func yearDataFromSeries(mp string, year int, series []TimeSeries) YearData {
	y := YearData{
		MeteringPoint: mp,
		Year:          year,
		Months:        make(map[time.Month]float64),
	}
	for _, ts := range series {
		if ts.DataDate.Year() != year {
			continue
		}
		y.Months[ts.DataDate.Month()] += ts.Total()
	}
	return y
}

func sortSeries(series []TimeSeries) {
	sort.Slice(series, func(i, j int) bool {
		return series[i].DataDate.Before(series[j].DataDate)
	})
}
