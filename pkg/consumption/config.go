package consumption

import (
	"fmt"
	"net/url"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/simpleelforbrug/elforbrug/pkg/common"
	"github.com/simpleelforbrug/elforbrug/pkg/eloverblik"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// Factory builds the data and tariff caches for an entry.
type Factory struct {
	apiURL   string
	interval time.Duration
	timeout  time.Duration

	// NewSource is overridable for testing.
	NewSource func(refreshToken string) Source
}

// Configured registers the eloverblik flags and returns the Factory.
func Configured() *Factory {
	f := &Factory{}
	apiURL := lflag.String("eloverblik-api-url", eloverblik.DefaultAPIURL, "URL for the Eloverblik customer API")
	interval := lflag.Duration("update-interval", DefaultUpdateInterval, "Minimum time between fetches from Eloverblik per metering point")
	timeout := lflag.Duration("eloverblik-timeout", time.Minute, "Timeout for requests to Eloverblik")

	lflag.Do(func() {
		f.apiURL = *apiURL
		f.interval = *interval
		f.timeout = *timeout
		if err := f.Validate(); err != nil {
			panic(fmt.Sprintf("eloverblik validation failed: %v", err))
		}
	})
	return f
}

// NewFactory returns a Factory without registering flags.
func NewFactory(apiURL string, interval time.Duration) *Factory {
	return &Factory{
		apiURL:   apiURL,
		interval: interval,
		timeout:  time.Minute,
	}
}

// Validate ensures the configuration is valid.
func (f *Factory) Validate() error {
	if f.apiURL == "" {
		return fmt.Errorf("eloverblik-api-url is required")
	}
	if _, err := url.Parse(f.apiURL); err != nil {
		return fmt.Errorf("failed to parse eloverblik url (%s): %w", f.apiURL, err)
	}
	if f.interval <= 0 {
		return fmt.Errorf("update-interval must be positive")
	}
	return nil
}

// Interval is the configured minimum time between fetches.
func (f *Factory) Interval() time.Duration {
	return f.interval
}

// New returns the caches for entry, sharing a single upstream client.
func (f *Factory) New(entry types.Entry) (*Data, *Tariffs) {
	var src Source
	if f.NewSource != nil {
		src = f.NewSource(entry.RefreshToken)
	} else {
		src = eloverblik.NewClient(f.apiURL, entry.RefreshToken, common.HTTPClient(f.timeout))
	}
	return NewData(src, entry.MeteringPoint, entry.Unit(), f.interval),
		NewTariffs(src, entry.MeteringPoint, f.interval)
}
