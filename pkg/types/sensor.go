package types

import (
	"fmt"
	"time"
)

// SensorKind identifies what a sensor reports.
type SensorKind string

const (
	SensorDaily   SensorKind = "daily"
	SensorMonthly SensorKind = "monthly"
	SensorTotal   SensorKind = "total"
	SensorTariff  SensorKind = "tariff"
)

// SensorDescription is the static metadata of a sensor kind.
type SensorDescription struct {
	Kind           SensorKind `json:"kind"`
	Name           string     `json:"name"`
	EnabledDefault bool       `json:"enabledDefault"`
	NativeUnit     Unit       `json:"nativeUnit"`
	Icon           string     `json:"icon"`
	// Convertible is true when the sensor follows the entry's unit.
	Convertible bool `json:"-"`
}

// SensorDescriptions lists every sensor created for an entry in order.
var SensorDescriptions = []SensorDescription{
	{
		Kind:           SensorDaily,
		Name:           "Simple Elforbrug Daily",
		EnabledDefault: true,
		NativeUnit:     UnitKWh,
		Icon:           "mdi:calendar-today",
		Convertible:    true,
	},
	{
		Kind:           SensorMonthly,
		Name:           "Simple Elforbrug Monthly",
		EnabledDefault: true,
		NativeUnit:     UnitKWh,
		Icon:           "mdi:calendar-month",
		Convertible:    true,
	},
	{
		Kind:           SensorTotal,
		Name:           "Simple Elforbrug Total",
		EnabledDefault: true,
		NativeUnit:     UnitKWh,
		Icon:           "mdi:calendar-multiple-check",
		Convertible:    true,
	},
	{
		Kind:           SensorTariff,
		Name:           "Simple Elforbrug Tariff",
		EnabledDefault: true,
		NativeUnit:     UnitDKKPerKWh,
		Icon:           "mdi:cash",
	},
}

// LookupSensor returns the description for kind.
func LookupSensor(kind SensorKind) (SensorDescription, error) {
	for _, d := range SensorDescriptions {
		if d.Kind == kind {
			return d, nil
		}
	}
	return SensorDescription{}, fmt.Errorf("unexpected sensor kind: %s", kind)
}

// SensorUniqueID is the stable id of the sensor kind for a metering point.
func SensorUniqueID(mp string, kind SensorKind) string {
	return mp + "-" + string(kind)
}

// SensorSnapshot is the externally visible state of a sensor.
type SensorSnapshot struct {
	EntryID       string         `json:"entryID"`
	MeteringPoint string         `json:"meteringPoint"`
	UniqueID      string         `json:"uniqueID"`
	Kind          SensorKind     `json:"kind"`
	Name          string         `json:"name"`
	State         float64        `json:"state"`
	Unit          Unit           `json:"unitOfMeasurement"`
	Icon          string         `json:"icon"`
	Attributes    map[string]any `json:"attributes"`
	LastUpdated   time.Time      `json:"lastUpdated"`
}

// SensorState is the persisted record used to restore a sensor on restart.
type SensorState struct {
	EntryID   string    `json:"entryID"`
	UniqueID  string    `json:"uniqueID"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}
