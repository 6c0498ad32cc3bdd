package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Document is a typed Firestore document with its metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Decoder hydrates the typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository wraps one collection with typed helpers. Every error it returns is a *Error.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	decode     Decoder[T]
}

// NewBaseRepository constructs a BaseRepository bound to a collection. A nil decoder uses DataTo.
func NewBaseRepository[T any](provider *Provider, collection string, decode Decoder[T]) *BaseRepository[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		decode:     decode,
	}
}

// Collection returns the collection name.
func (r *BaseRepository[T]) Collection() string {
	return r.collection
}

// Create writes a new document and fails with a conflict when the id is taken.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) error {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, value); err != nil {
		return WrapError(r.op("create"), err)
	}
	return nil
}

// Set upserts value under id.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T, opts ...firestore.SetOption) error {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value, opts...); err != nil {
		return WrapError(r.op("set"), err)
	}
	return nil
}

// Update applies field updates; a missing document is reported as not found.
func (r *BaseRepository[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) error {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Update(ctx, updates, preconds...); err != nil {
		return WrapError(r.op("update"), err)
	}
	return nil
}

// Delete removes the document; deleting a missing document is not an error.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx); err != nil {
		return WrapError(r.op("delete"), err)
	}
	return nil
}

// Get fetches and decodes the document.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.decodeDocument(snapshot)
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if isIteratorDone(err) {
			break
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		decoded, err := r.decodeDocument(snapshot)
		if err != nil {
			return nil, err
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// Watch streams the document until ctx ends. fn receives exists=false while the document is absent;
// returning an error from fn stops the stream with that error.
func (r *BaseRepository[T]) Watch(ctx context.Context, id string, fn func(doc Document[T], exists bool) error) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	iter := ref.Snapshots(ctx)
	defer iter.Stop()

	for {
		snapshot, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return ctx.Err()
			}
			return WrapError(r.op("watch"), err)
		}
		if !snapshot.Exists() {
			if err := fn(Document[T]{ID: id}, false); err != nil {
				return err
			}
			continue
		}
		decoded, err := r.decodeDocument(snapshot)
		if err != nil {
			return err
		}
		if err := fn(decoded, true); err != nil {
			return err
		}
	}
}

// DocumentRef exposes the underlying document reference for transactions.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newError(r.op("document"), errors.New("document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Decode converts a snapshot read inside a transaction.
func (r *BaseRepository[T]) Decode(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	return r.decodeDocument(snapshot)
}

func (r *BaseRepository[T]) decodeDocument(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(snapshot)
	if err != nil {
		return Document[T]{}, newError(r.op("decode"), fmt.Errorf("document %s: %w", snapshot.Ref.ID, err))
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, newError("firestore.collection", errors.New("provider is nil"))
	}
	if r.collection == "" {
		return nil, newError("firestore.collection", errors.New("collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, unavailable(r.op("client"), err)
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) op(action string) string {
	return r.collection + "." + action
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}

func isIteratorDone(err error) bool {
	return errors.Is(err, iterator.Done)
}
