package statstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/wattsync/wattsync/pkg/log"
	"github.com/wattsync/wattsync/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements the Store interface using Google Cloud
// Firestore. Each series is a document under "series" holding its metadata,
// with points in a subcollection keyed by the RFC3339 start time for
// efficient range queries.
type FirestoreStore struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore store.
// It registers flags for configuration.
func configuredFirestore() *FirestoreStore {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreStore{}

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

// Validate checks if the store is properly configured.
func (f *FirestoreStore) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the store methods.
func (f *FirestoreStore) Init(ctx context.Context) error {
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
func (f *FirestoreStore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreStore) seriesDoc(statisticID string) (*firestore.DocumentRef, error) {
	if statisticID == "" {
		return nil, fmt.Errorf("statisticID cannot be empty")
	}
	return f.client.Collection("series").Doc(statisticID), nil
}

// UpsertSeries writes the series metadata and sets each point, overwriting
// any point already stored for the same start time.
func (f *FirestoreStore) UpsertSeries(ctx context.Context, meta types.SeriesMeta, points []types.StatPoint) error {
	doc, err := f.seriesDoc(meta.StatisticID)
	if err != nil {
		return err
	}

	if _, err := doc.Set(ctx, map[string]interface{}{
		"name": meta.Name,
		"unit": meta.Unit,
	}); err != nil {
		return fmt.Errorf("failed to save series metadata for %s: %w", meta.StatisticID, err)
	}

	for _, p := range points {
		_, err := doc.Collection("points").Doc(p.Start.UTC().Format(time.RFC3339)).Set(ctx, map[string]interface{}{
			"start": p.Start,
			"state": p.State,
			"sum":   p.Sum,
		})
		if err != nil {
			return fmt.Errorf("failed to save point %s of %s: %w", p.Start, meta.StatisticID, err)
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "upserted series",
		slog.String("statisticID", meta.StatisticID), slog.Int("points", len(points)))
	return nil
}

// LastPoint retrieves the most recent point of the series.
func (f *FirestoreStore) LastPoint(ctx context.Context, statisticID string) (types.StatPoint, bool, error) {
	doc, err := f.seriesDoc(statisticID)
	if err != nil {
		return types.StatPoint{}, false, err
	}

	// firestore automatically creates indexes for top-level fields
	iter := doc.Collection("points").
		OrderBy("start", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return types.StatPoint{}, false, nil
	}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.StatPoint{}, false, nil
		}
		return types.StatPoint{}, false, fmt.Errorf("failed to get last point of %s: %w", statisticID, err)
	}

	point, err := pointFromDoc(snap)
	if err != nil {
		return types.StatPoint{}, false, err
	}
	return point, true, nil
}

// Points retrieves every point of the series ordered by start time.
func (f *FirestoreStore) Points(ctx context.Context, statisticID string) ([]types.StatPoint, error) {
	doc, err := f.seriesDoc(statisticID)
	if err != nil {
		return nil, err
	}

	iter := doc.Collection("points").OrderBy("start", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var points []types.StatPoint
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate points of %s: %w", statisticID, err)
		}
		point, err := pointFromDoc(snap)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, nil
}

// Clear deletes the series and its points. Only series under this service's
// namespace can be cleared.
func (f *FirestoreStore) Clear(ctx context.Context, statisticID string) error {
	if err := CheckNamespace(statisticID); err != nil {
		return err
	}
	doc, err := f.seriesDoc(statisticID)
	if err != nil {
		return err
	}

	iter := doc.Collection("points").Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate points of %s for clear: %w", statisticID, err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete point of %s: %w", statisticID, err)
		}
	}

	if _, err := doc.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete series %s: %w", statisticID, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "cleared series", slog.String("statisticID", statisticID))
	return nil
}

func pointFromDoc(snap *firestore.DocumentSnapshot) (types.StatPoint, error) {
	var point types.StatPoint
	if v, err := snap.DataAt("start"); err == nil {
		if t, ok := v.(time.Time); ok {
			point.Start = t
		}
	}
	if point.Start.IsZero() {
		// fall back to the document ID which is the RFC3339 start
		t, err := time.Parse(time.RFC3339, snap.Ref.ID)
		if err != nil {
			return types.StatPoint{}, fmt.Errorf("invalid point doc id %s: %w", snap.Ref.ID, err)
		}
		point.Start = t
	}
	if v, err := snap.DataAt("state"); err == nil {
		if f, ok := v.(float64); ok {
			point.State = f
		}
	}
	if v, err := snap.DataAt("sum"); err == nil {
		if f, ok := v.(float64); ok {
			point.Sum = f
		}
	}
	return point, nil
}
