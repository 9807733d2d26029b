package consumption

import "time"

// SetDataNow overrides the clock of d for external tests.
func SetDataNow(d *Data, now func() time.Time) { d.now = now }

// SetTariffsNow overrides the clock of t for external tests.
func SetTariffsNow(t *Tariffs, now func() time.Time) { t.now = now }
