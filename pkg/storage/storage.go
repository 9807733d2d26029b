package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrStateNotFound = errors.New("sensor state not found")
)

// Database persists config entries and the last state of every sensor.
type Database interface {
	// Entries
	ListEntries(ctx context.Context) ([]types.Entry, error)
	GetEntry(ctx context.Context, entryID string) (types.Entry, error)
	SetEntry(ctx context.Context, entry types.Entry) error
	DeleteEntry(ctx context.Context, entryID string) error

	// Restore state
	GetSensorState(ctx context.Context, entryID, uniqueID string) (types.SensorState, error)
	SetSensorState(ctx context.Context, state types.SensorState) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, memory)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
