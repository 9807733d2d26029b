package sensor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/simpleelforbrug/elforbrug/pkg/consumption"
	"github.com/simpleelforbrug/elforbrug/pkg/eloverblik"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// Attribute keys exposed by the sensors.
const (
	AttrDailyUsage        = "Daily Usage"
	AttrMonthlyUsage      = "Monthly Usage"
	AttrYearlyConsumption = "Yearly Consumption"
	AttrMeteringPoint     = "Metering Point"
	AttrMeteringDate      = "Metering date"
	AttrMeteringMonth     = "Metering Month"
)

// Coordinator refreshes the consumption caches and computes the state of one
// sensor kind from them.
type Coordinator struct {
	desc    types.SensorDescription
	data    *consumption.Data
	tariffs *consumption.Tariffs
	now     func() time.Time
}

// NewCoordinator returns a Coordinator for kind. Unknown kinds are rejected.
func NewCoordinator(kind types.SensorKind, data *consumption.Data, tariffs *consumption.Tariffs) (*Coordinator, error) {
	desc, err := types.LookupSensor(kind)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("sensor %s requires data", kind)
	}
	if kind == types.SensorTariff && tariffs == nil {
		return nil, fmt.Errorf("sensor %s requires tariffs", kind)
	}
	return &Coordinator{
		desc:    desc,
		data:    data,
		tariffs: tariffs,
		now:     time.Now,
	}, nil
}

// Description returns the static metadata of the sensor.
func (c *Coordinator) Description() types.SensorDescription {
	return c.desc
}

// Unit is the unit the state is reported in.
func (c *Coordinator) Unit() types.Unit {
	if c.desc.Convertible {
		return c.data.Unit()
	}
	return c.desc.NativeUnit
}

// Refresh triggers a throttled upstream update of the cache the sensor
// reads from.
func (c *Coordinator) Refresh(ctx context.Context) {
	if c.desc.Kind == types.SensorTariff {
		c.tariffs.Update(ctx)
		return
	}
	c.data.Update(ctx)
}

// Compute returns the current state and attributes from the cache.
func (c *Coordinator) Compute() (float64, map[string]any) {
	now := c.now().In(eloverblik.Location)
	mp := c.data.MeteringPoint()

	switch c.desc.Kind {
	case types.SensorDaily:
		usage, _ := c.data.UsageUpToHour(now.Hour())
		usage = types.Round(usage, 3)
		attrs := map[string]any{
			AttrDailyUsage:    usage,
			AttrMeteringPoint: mp,
			AttrMeteringDate:  dataDate(c.data),
		}
		for n, v := range c.data.WeekSummary(now) {
			attrs[DaysAgoKey(n)] = v
		}
		return usage, attrs

	case types.SensorMonthly:
		usage := types.Round(c.data.MonthTotal(now), 3)
		return usage, map[string]any{
			AttrMonthlyUsage:  usage,
			AttrMeteringPoint: mp,
			AttrMeteringMonth: now.Format("January 2006"),
		}

	case types.SensorTotal:
		total, _ := c.data.TotalYear()
		return total, map[string]any{
			AttrYearlyConsumption: total,
			AttrMeteringPoint:     mp,
			AttrMeteringDate:      dataDate(c.data),
		}

	case types.SensorTariff:
		total, _ := c.tariffs.TodayTotal()
		attrs := make(map[string]any)
		for name, price := range c.tariffs.All() {
			attrs[name] = price
		}
		return total, attrs
	}
	// unreachable, kinds are validated in NewCoordinator
	return 0, nil
}

// DaysAgoKey is the week summary attribute key for n days ago.
func DaysAgoKey(n int) string {
	if n == 1 {
		return "1 day ago"
	}
	return strconv.Itoa(n) + " days ago"
}

func dataDate(d *consumption.Data) any {
	if date, ok := d.DataDate(); ok {
		return date
	}
	return nil
}
