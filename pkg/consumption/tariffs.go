package consumption

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/simpleelforbrug/elforbrug/pkg/eloverblik"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// the three charges that make up the daily tariff total
const (
	chargeTransmission = "transmissions_nettarif"
	chargeSystem       = "systemtarif"
	chargeTax          = "elafgift"

	chargeNetTariffC      = "nettarif_c"
	chargeNetTariffCLabel = "Tariff i dag"
	chargeDiscountPrefix  = "rabat_på_cerius"
)

// Tariffs caches the charges for a metering point.
type Tariffs struct {
	source        Source
	meteringPoint string
	now           func() time.Time
	throttle      *throttle

	mu      sync.RWMutex
	charges eloverblik.Charges
}

// NewTariffs returns an empty tariff cache for mp.
func NewTariffs(source Source, mp string, interval time.Duration) *Tariffs {
	t := &Tariffs{
		source:        source,
		meteringPoint: mp,
		now:           time.Now,
	}
	t.throttle = &throttle{
		interval: interval,
		now:      func() time.Time { return t.now() },
	}
	return t
}

// Update refreshes the tariffs unless throttled.
func (t *Tariffs) Update(ctx context.Context) bool {
	return t.throttle.do(false, func() { t.fetch(ctx) })
}

// ForceUpdate refreshes the tariffs ignoring the interval.
func (t *Tariffs) ForceUpdate(ctx context.Context) bool {
	return t.throttle.do(true, func() { t.fetch(ctx) })
}

func (t *Tariffs) fetch(ctx context.Context) {
	charges, err := t.source.GetTariffs(ctx, t.meteringPoint)
	if err != nil {
		logFetchError(ctx, "tariffs", err)
		return
	}
	if charges == nil {
		charges = eloverblik.Charges{}
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched tariffs", slog.Int("count", len(charges)))

	t.mu.Lock()
	t.charges = charges
	t.mu.Unlock()
}

// TodayTotal returns transmission + system + tax tariffs in DKK/kWh, each
// defaulting to 0. ok is false when no tariffs have been fetched.
func (t *Tariffs) TodayTotal() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.charges) == 0 {
		return 0, false
	}
	total := t.charges[chargeTransmission] + t.charges[chargeSystem] + t.charges[chargeTax]
	return types.Round(total, 3), true
}

// All returns every tariff for display, hiding discounts and labelling the
// net tariff as today's tariff.
func (t *Tariffs) All() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.charges))
	for name, price := range t.charges {
		switch {
		case strings.HasPrefix(name, chargeDiscountPrefix):
			continue
		case name == chargeNetTariffC:
			out[chargeNetTariffCLabel] = price
		default:
			out[name] = price
		}
	}
	return out
}
