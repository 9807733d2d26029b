package consumption

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/simpleelforbrug/elforbrug/pkg/eloverblik"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// DefaultUpdateInterval is the minimum time between upstream fetches.
const DefaultUpdateInterval = time.Hour

// weekDays is how many days of hourly data are always fetched.
const weekDays = 7

// Data caches the consumption of a metering point. Cached values are raw
// kWh, conversion to the configured unit happens in the getters.
type Data struct {
	source        Source
	meteringPoint string
	now           func() time.Time
	throttle      *throttle

	mu     sync.RWMutex
	unit   types.Unit
	latest *eloverblik.TimeSeries
	days   map[time.Time]eloverblik.TimeSeries
	year   *eloverblik.YearData
}

// NewData returns an empty cache for mp that refreshes from source at most
// once per interval.
func NewData(source Source, mp string, unit types.Unit, interval time.Duration) *Data {
	d := &Data{
		source:        source,
		meteringPoint: mp,
		now:           time.Now,
		unit:          unit,
		days:          make(map[time.Time]eloverblik.TimeSeries),
	}
	d.throttle = &throttle{
		interval: interval,
		now:      func() time.Time { return d.now() },
	}
	return d
}

// MeteringPoint returns the metering point the data is for.
func (d *Data) MeteringPoint() string {
	return d.meteringPoint
}

// Unit returns the unit getters convert to.
func (d *Data) Unit() types.Unit {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.unit
}

// SetUnit changes the unit getters convert to. The cache is untouched.
func (d *Data) SetUnit(u types.Unit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unit = u
}

// LastUpdate is when the last fetch was attempted.
func (d *Data) LastUpdate() time.Time {
	return d.throttle.lastCall()
}

// Update refreshes the cache unless a refresh happened within the interval
// or is already running. It reports whether a fetch was attempted.
func (d *Data) Update(ctx context.Context) bool {
	return d.throttle.do(false, func() { d.fetch(ctx) })
}

// ForceUpdate refreshes the cache ignoring the interval.
func (d *Data) ForceUpdate(ctx context.Context) bool {
	return d.throttle.do(true, func() { d.fetch(ctx) })
}

func (d *Data) fetch(ctx context.Context) {
	now := d.now().In(eloverblik.Location)
	today := eloverblik.Date(now)
	from := today.AddDate(0, 0, -(weekDays + 1))
	if monthStart := today.AddDate(0, 0, 1-today.Day()); monthStart.Before(from) {
		from = monthStart
	}

	log.Ctx(ctx).DebugContext(ctx, "updating energy data", slog.Time("from", from), slog.Time("to", today))

	series, err := d.source.GetTimeSeries(ctx, d.meteringPoint, from, today, eloverblik.AggregationHour)
	if err != nil {
		logFetchError(ctx, "day data", err)
	} else {
		d.setDays(series)
	}

	year, err := d.source.GetPerMonth(ctx, d.meteringPoint)
	if err != nil {
		logFetchError(ctx, "year data", err)
	} else {
		d.mu.Lock()
		d.year = &year
		d.mu.Unlock()
	}
}

func (d *Data) setDays(series []eloverblik.TimeSeries) {
	days := make(map[time.Time]eloverblik.TimeSeries, len(series))
	var latest *eloverblik.TimeSeries
	for i := range series {
		s := series[i]
		if s.Len() == 0 {
			continue
		}
		days[eloverblik.Date(s.DataDate)] = s
		if latest == nil || s.DataDate.After(latest.DataDate) {
			latest = &s
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.days = days
	if latest != nil {
		d.latest = latest
	}
}

func (d *Data) convert(kwh float64) float64 {
	if d.unit == types.UnitMWh {
		return types.UnitMWh.FromKWh(kwh)
	}
	return types.Round(kwh, 2)
}

// UsageHour returns the usage in the given hour of the latest day. ok is
// false when no day data has been fetched yet. Hours without a reading are 0.
func (d *Data) UsageHour(hour int) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.latest == nil {
		return 0, false
	}
	v, err := d.latest.MeteringData(hour)
	if err != nil {
		return 0, true
	}
	return d.convert(v), true
}

// UsageUpToHour returns the usage of the latest day from midnight through the
// given hour. Readings are summed before converting so small hours aren't
// rounded away.
func (d *Data) UsageUpToHour(hour int) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.latest == nil {
		return 0, false
	}
	var kwh float64
	for h := 0; h <= hour; h++ {
		if v, err := d.latest.MeteringData(h); err == nil {
			kwh += v
		}
	}
	return d.convert(kwh), true
}

// DayTotal returns the usage for the Copenhagen calendar day of date.
func (d *Data) DayTotal(date time.Time) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.days[eloverblik.Date(date)]
	if !ok {
		return 0, false
	}
	return d.convert(s.Total()), true
}

// WeekSummary returns the usage for each of the last 7 days relative to now,
// keyed by days ago. Days without data are nil.
func (d *Data) WeekSummary(now time.Time) map[int]*float64 {
	today := eloverblik.Date(now)
	out := make(map[int]*float64, weekDays)
	for n := 1; n <= weekDays; n++ {
		if v, ok := d.DayTotal(today.AddDate(0, 0, -n)); ok {
			out[n] = &v
		} else {
			out[n] = nil
		}
	}
	return out
}

// TotalYear returns the usage for the current year so far.
func (d *Data) TotalYear() (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.year == nil {
		return 0, false
	}
	return d.convert(d.year.TotalMeteringData()), true
}

// DataDate returns the date of the latest day of data as YYYY-MM-DD.
func (d *Data) DataDate() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.latest == nil {
		return "", false
	}
	return d.latest.DataDate.In(eloverblik.Location).Format("2006-01-02"), true
}

// MonthTotal returns the usage from the 1st of the month of now through the
// day of now. Days without data contribute 0.
func (d *Data) MonthTotal(now time.Time) float64 {
	today := eloverblik.Date(now)

	d.mu.RLock()
	defer d.mu.RUnlock()
	var kwh float64
	for day := today.AddDate(0, 0, 1-today.Day()); !day.After(today); day = day.AddDate(0, 0, 1) {
		if s, ok := d.days[day]; ok {
			kwh += s.Total()
		}
	}
	return d.convert(kwh)
}
