package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnit(t *testing.T) {
	u, err := ParseUnit("")
	require.NoError(t, err)
	assert.Equal(t, UnitKWh, u)

	u, err = ParseUnit("MWh")
	require.NoError(t, err)
	assert.Equal(t, UnitMWh, u)

	_, err = ParseUnit("GWh")
	assert.Error(t, err)

	_, err = ParseUnit("mwh")
	assert.Error(t, err, "units are case sensitive")

	_, err = ParseUnit(string(UnitDKKPerKWh))
	assert.Error(t, err, "tariff unit is not selectable")
}

func TestFromKWh(t *testing.T) {
	assert.Equal(t, 1234.56, UnitKWh.FromKWh(1234.56))
	assert.Equal(t, 1.235, UnitMWh.FromKWh(1234.56))
	assert.Equal(t, 0.0, UnitMWh.FromKWh(0.4))
	assert.Equal(t, 12.0, UnitMWh.FromKWh(12000))
}

func TestEntryUnit(t *testing.T) {
	assert.Equal(t, UnitKWh, Entry{}.Unit())
	assert.Equal(t, UnitMWh, Entry{UnitOfMeasurement: UnitMWh}.Unit())
	assert.Equal(t, "Simple Elforbrug. Meter point: 1", EntryTitle("1"))
}

func TestLookupSensor(t *testing.T) {
	d, err := LookupSensor(SensorMonthly)
	require.NoError(t, err)
	assert.Equal(t, "mdi:calendar-month", d.Icon)
	assert.True(t, d.Convertible)

	d, err = LookupSensor(SensorTariff)
	require.NoError(t, err)
	assert.False(t, d.Convertible)

	_, err = LookupSensor("weekly")
	assert.ErrorContains(t, err, "unexpected sensor kind")

	assert.Equal(t, "571313174112345678-daily", SensorUniqueID("571313174112345678", SensorDaily))
}
