package datasync

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
)

// FirestoreStore implements Source and Sink over a shared Firestore provider.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

var (
	_ Source = (*FirestoreStore)(nil)
	_ Sink   = (*FirestoreStore)(nil)
)

// NewFirestoreStore constructs a FirestoreStore.
func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("datasync: firestore provider is required")
	}
	return &FirestoreStore{provider: provider}, nil
}

// Collections lists top-level collection ids.
func (s *FirestoreStore) Collections(ctx context.Context) ([]string, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	iter := client.Collections(ctx)
	for {
		ref, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError("datasync.collections", err)
		}
		names = append(names, ref.ID)
	}
}

// Documents streams every document of collection to fn.
func (s *FirestoreStore) Documents(ctx context.Context, collection string, fn func(id string, data map[string]any) error) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(collection).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return pfirestore.WrapError("datasync.documents", err)
		}
		if err := fn(snap.Ref.ID, snap.Data()); err != nil {
			return err
		}
	}
}

// Write sets every document through a BulkWriter and waits for all results.
func (s *FirestoreStore) Write(ctx context.Context, collection string, docs map[string]map[string]any) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	writer := client.BulkWriter(ctx)
	col := client.Collection(collection)

	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for id, data := range docs {
		job, err := writer.Set(col.Doc(id), data)
		if err != nil {
			writer.End()
			return pfirestore.WrapError("datasync.write", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, pfirestore.WrapError("datasync.write", err))
		}
	}
	return errors.Join(errs...)
}
