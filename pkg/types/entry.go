package types

import "time"

// Entry is a configured metering point, the equivalent of a Home Assistant
// config entry.
type Entry struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	MeteringPoint     string    `json:"meteringPoint"`
	UnitOfMeasurement Unit      `json:"unitOfMeasurement"`
	CreatedAt         time.Time `json:"createdAt"`

	// RefreshToken is never serialized, storage keeps it in
	// EncryptedRefreshToken instead.
	RefreshToken          string `json:"-"`
	EncryptedRefreshToken []byte `json:"encryptedRefreshToken,omitempty"`
}

// Unit returns the entry's unit falling back to the default.
func (e Entry) Unit() Unit {
	if e.UnitOfMeasurement == "" {
		return DefaultUnit
	}
	return e.UnitOfMeasurement
}

// EntryTitle is the display title for an entry created for mp.
func EntryTitle(mp string) string {
	return "Simple Elforbrug. Meter point: " + mp
}
