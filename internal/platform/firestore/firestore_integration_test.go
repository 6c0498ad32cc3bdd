//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/southernsense/storefront/internal/platform/config"
	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

type classifier interface {
	IsNotFound() bool
	IsConflict() bool
}

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "storefront-test",
		EmulatorHost: host,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestBaseRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	collection := "samples-" + time.Now().UTC().Format("150405.000000000")
	repo := pfirestore.NewBaseRepository[sampleEntity](provider, collection, nil)

	if err := repo.Create(ctx, "sample-1", sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := repo.Create(ctx, "sample-1", sampleEntity{Name: "beta"})
	var cls classifier
	if !errors.As(err, &cls) || !cls.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := repo.Update(ctx, "sample-1", []firestore.Update{{Path: "count", Value: 2}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	doc, err := repo.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.Name != "alpha" || doc.Data.Count != 2 {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}

	_, err = repo.Get(ctx, "missing")
	if !errors.As(err, &cls) || !cls.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "sample-1")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := repo.Decode(snap)
		if err != nil {
			return err
		}
		current.Data.Count++
		return tx.Set(ref, current.Data)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("count", "==", 3)
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document after transaction, got %d", len(docs))
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

func TestBaseRepositoryWatchIntegration(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[sampleEntity](provider, "watch-samples", nil)
	_ = repo.Delete(ctx, "watched")

	seen := make(chan int, 4)
	watchCtx, stopWatch := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- repo.Watch(watchCtx, "watched", func(doc pfirestore.Document[sampleEntity], exists bool) error {
			if !exists {
				seen <- -1
				return nil
			}
			seen <- doc.Data.Count
			return nil
		})
	}()

	if got := <-seen; got != -1 {
		t.Fatalf("expected missing document first, got %d", got)
	}
	if err := repo.Set(ctx, "watched", sampleEntity{Name: "w", Count: 7}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := <-seen; got != 7 {
		t.Fatalf("expected count 7, got %d", got)
	}

	stopWatch()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected watch to end with context canceled, got %v", err)
	}
}
