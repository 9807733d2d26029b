package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	entriesCollection = "entries"
	statesCollection  = "sensor_states"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Entries live in the "entries" collection and each entry keeps the last
// state of its sensors in a "sensor_states" sub-collection.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) entryDoc(entryID string) (*firestore.DocumentRef, error) {
	if entryID == "" {
		return nil, fmt.Errorf("entryID cannot be empty")
	}
	return f.client.Collection(entriesCollection).Doc(entryID), nil
}

func decodeJSONDoc(ctx context.Context, doc *firestore.DocumentSnapshot, dest any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// ListEntries retrieves every entry ordered by creation time.
func (f *FirestoreProvider) ListEntries(ctx context.Context) ([]types.Entry, error) {
	iter := f.client.Collection(entriesCollection).Documents(ctx)
	defer iter.Stop()

	var entries []types.Entry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating entries: %w", err)
		}

		var e types.Entry
		if err := decodeJSONDoc(ctx, doc, &e); err != nil {
			// skip malformed entries so one bad doc doesn't take down the rest
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// GetEntry retrieves a single entry.
func (f *FirestoreProvider) GetEntry(ctx context.Context, entryID string) (types.Entry, error) {
	ref, err := f.entryDoc(entryID)
	if err != nil {
		return types.Entry{}, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return types.Entry{}, fmt.Errorf("failed to get entry %s: %w", entryID, err)
	}

	var e types.Entry
	if err := decodeJSONDoc(ctx, doc, &e); err != nil {
		return types.Entry{}, err
	}
	return e, nil
}

// SetEntry creates or replaces an entry. The plaintext refresh token is never
// written, only the encrypted one.
func (f *FirestoreProvider) SetEntry(ctx context.Context, entry types.Entry) error {
	ref, err := f.entryDoc(entry.ID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry %s: %w", entry.ID, err)
	}
	_, err = ref.Set(ctx, map[string]interface{}{
		"json":          string(jsonBytes),
		"meteringPoint": entry.MeteringPoint,
		"createdAt":     entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save entry %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteEntry removes an entry along with its sensor states.
func (f *FirestoreProvider) DeleteEntry(ctx context.Context, entryID string) error {
	ref, err := f.entryDoc(entryID)
	if err != nil {
		return err
	}
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return fmt.Errorf("failed to get entry %s: %w", entryID, err)
	}

	iter := ref.Collection(statesCollection).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("error iterating sensor states: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete sensor state %s: %w", doc.Ref.ID, err)
		}
	}

	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", entryID, err)
	}
	return nil
}

// GetSensorState retrieves the last persisted state of a sensor.
func (f *FirestoreProvider) GetSensorState(ctx context.Context, entryID, uniqueID string) (types.SensorState, error) {
	ref, err := f.entryDoc(entryID)
	if err != nil {
		return types.SensorState{}, err
	}
	doc, err := ref.Collection(statesCollection).Doc(uniqueID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.SensorState{}, ErrStateNotFound
		}
		return types.SensorState{}, fmt.Errorf("failed to get sensor state %s: %w", uniqueID, err)
	}

	var s types.SensorState
	if err := decodeJSONDoc(ctx, doc, &s); err != nil {
		return types.SensorState{}, err
	}
	return s, nil
}

// SetSensorState stores the latest state of a sensor.
func (f *FirestoreProvider) SetSensorState(ctx context.Context, state types.SensorState) error {
	if state.UniqueID == "" {
		return fmt.Errorf("uniqueID cannot be empty")
	}
	ref, err := f.entryDoc(state.EntryID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sensor state: %w", err)
	}
	_, err = ref.Collection(statesCollection).Doc(state.UniqueID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": state.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to save sensor state %s: %w", state.UniqueID, err)
	}
	return nil
}
