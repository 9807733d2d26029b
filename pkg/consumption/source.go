package consumption

import (
	"context"
	"log/slog"
	"time"

	"github.com/simpleelforbrug/elforbrug/pkg/eloverblik"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
)

// Source fetches raw data for a metering point. *eloverblik.Client
// implements it.
type Source interface {
	GetTimeSeries(ctx context.Context, mp string, from, to time.Time, agg eloverblik.Aggregation) ([]eloverblik.TimeSeries, error)
	GetPerMonth(ctx context.Context, mp string) (eloverblik.YearData, error)
	GetTariffs(ctx context.Context, mp string) (eloverblik.Charges, error)
}

var _ Source = (*eloverblik.Client)(nil)

// logFetchError logs err the same way for every fetch, calling out expired
// refresh tokens explicitly.
func logFetchError(ctx context.Context, what string, err error) {
	if eloverblik.IsUnauthorized(err) {
		log.Ctx(ctx).WarnContext(
			ctx,
			"Unauthorized error while accessing Eloverblik.dk. Wrong or expired refresh token?",
			slog.String("fetch", what),
		)
		return
	}
	log.Ctx(ctx).WarnContext(
		ctx,
		"error from eloverblik when getting "+what,
		slog.String("fetch", what),
		slog.Any("error", err),
	)
}
