package main

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/simpleelforbrug/elforbrug/pkg/consumption"
	"github.com/simpleelforbrug/elforbrug/pkg/eloverblik"
	"github.com/simpleelforbrug/elforbrug/pkg/integration"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/storage"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// simulatedSource generates a plausible household profile instead of calling
// Eloverblik.
type simulatedSource struct {
	rng *rand.Rand
}

func (s *simulatedSource) hourKWh(hour int) float64 {
	// Simulation state
	const (
		BaseLoadKW    = 0.25
		MorningPeakKW = 0.9
		EveningPeakKW = 1.8
	)
	kw := BaseLoadKW
	// morning and evening bell curves
	kw += MorningPeakKW * math.Exp(-math.Pow(float64(hour)-7.5, 2)/2)
	kw += EveningPeakKW * math.Exp(-math.Pow(float64(hour)-18.5, 2)/4)
	// Jitter
	kw += s.rng.Float64()*0.2 - 0.1
	return math.Max(kw, 0.05)
}

func (s *simulatedSource) GetTimeSeries(ctx context.Context, mp string, from, to time.Time, agg eloverblik.Aggregation) ([]eloverblik.TimeSeries, error) {
	if agg != eloverblik.AggregationHour {
		return nil, errors.New("only hourly data is simulated")
	}
	var series []eloverblik.TimeSeries
	for day := eloverblik.Date(from); day.Before(to); day = day.AddDate(0, 0, 1) {
		values := make([]float64, 24)
		for h := range values {
			values[h] = s.hourKWh(h)
		}
		series = append(series, eloverblik.NewTimeSeries(mp, day, values))
	}
	return series, nil
}

func (s *simulatedSource) GetPerMonth(ctx context.Context, mp string) (eloverblik.YearData, error) {
	now := time.Now().In(eloverblik.Location)
	year := eloverblik.YearData{
		MeteringPoint: mp,
		Year:          now.Year(),
		Months:        make(map[time.Month]float64),
	}
	for m := time.January; m <= now.Month(); m++ {
		// colder months use more
		year.Months[m] = 250 + 100*math.Cos(float64(m-1)/12*2*math.Pi) + s.rng.Float64()*20
	}
	return year, nil
}

func (s *simulatedSource) GetTariffs(ctx context.Context, mp string) (eloverblik.Charges, error) {
	return eloverblik.Charges{
		"transmissions_nettarif": 0.074,
		"systemtarif":            0.051,
		"elafgift":               0.761,
		"nettarif_c":             0.372,
	}, nil
}

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	f := consumption.Configured()
	m := integration.Configured(s, f)
	mp := lflag.String("seed-metering-point", "571313174112345678", "Metering point of the seeded entry")
	unit := lflag.String("seed-unit", string(types.DefaultUnit), "Unit of the seeded entry (kWh or MWh)")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	// Use a new random source
	src := &simulatedSource{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	f.NewSource = func(string) consumption.Source { return src }

	u, err := types.ParseUnit(*unit)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid unit", "error", err)
		os.Exit(1)
	}
	if err := types.ValidateMeteringPoint(*mp); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid metering point", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")
	if err := m.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load entries", "error", err)
		os.Exit(1)
	}
	entry, err := m.CreateEntry(ctx, *mp, "seed-refresh-token", u)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed entry", "error", err)
		os.Exit(1)
	}
	for _, snap := range m.Sensors() {
		log.Ctx(ctx).InfoContext(ctx, "seeded sensor", "uniqueID", snap.UniqueID, "state", snap.State, "unit", snap.Unit)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeding complete", "entryID", entry.ID)
}
