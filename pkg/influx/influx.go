// Package influx records sensor states as InfluxDB points for long term
// history.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/levenlabs/go-lflag"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

const measurement = "elforbrug"

// pointWriter is satisfied by api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink writes a point for every sensor update. It does nothing when no URL
// is configured.
type Sink struct {
	url    string
	token  string
	org    string
	bucket string

	client influxdb2.Client
	writer pointWriter
	now    func() time.Time
}

// Configured registers the InfluxDB flags and returns the Sink.
func Configured() *Sink {
	s := &Sink{now: time.Now}
	url := lflag.String("influxdb-url", "", "InfluxDB URL to record sensor history to, empty disables it")
	token := lflag.String("influxdb-token", "", "InfluxDB API token")
	org := lflag.String("influxdb-org", "", "InfluxDB organization")
	bucket := lflag.String("influxdb-bucket", "elforbrug", "InfluxDB bucket")

	lflag.Do(func() {
		s.url = *url
		s.token = *token
		s.org = *org
		s.bucket = *bucket
		if s.url != "" && s.org == "" {
			panic("influxdb-org is required when influxdb-url is set")
		}
	})
	return s
}

// Enabled reports whether a URL is configured.
func (s *Sink) Enabled() bool {
	return s.url != ""
}

// Connect creates the client and verifies the server is reachable.
func (s *Sink) Connect(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	client := influxdb2.NewClient(s.url, s.token)
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to influxdb %s: %w", s.url, err)
	}
	s.client = client
	s.writer = client.WriteAPIBlocking(s.org, s.bucket)
	log.Ctx(ctx).InfoContext(ctx, "connected to influxdb", slog.String("url", s.url), slog.String("bucket", s.bucket))
	return nil
}

// Close closes the client.
func (s *Sink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Publish writes the sensor state as a point.
func (s *Sink) Publish(ctx context.Context, snap types.SensorSnapshot) error {
	if s.writer == nil {
		return nil
	}
	ts := snap.LastUpdated
	if ts.IsZero() {
		ts = s.now()
	}
	point := write.NewPoint(
		measurement,
		map[string]string{
			"entry_id":       snap.EntryID,
			"metering_point": snap.MeteringPoint,
			"sensor":         string(snap.Kind),
			"unit":           string(snap.Unit),
		},
		map[string]interface{}{
			"state": snap.State,
		},
		ts,
	)
	if err := s.writer.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write point for %s: %w", snap.UniqueID, err)
	}
	return nil
}
