package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot with its metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Decoder hydrates the typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises a collection query before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed access to a collection. The collection may be nested under a
// parent document, e.g. users/{uid}/addresses, by calling Scoped.
type BaseRepository[T any] struct {
	provider *Provider
	path     string
	decode   Decoder[T]
}

// NewBaseRepository binds a repository to collection using decode (nil means DataTo).
func NewBaseRepository[T any](provider *Provider, collection string, decode Decoder[T]) *BaseRepository[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &BaseRepository[T]{
		provider: provider,
		path:     strings.Trim(strings.TrimSpace(collection), "/"),
		decode:   decode,
	}
}

// Scoped returns a repository for the same collection nested under parentCollection/parentID.
func (r *BaseRepository[T]) Scoped(parentCollection, parentID string) (*BaseRepository[T], error) {
	if err := validateSegment(parentCollection); err != nil {
		return nil, WrapError(r.op("scope"), err)
	}
	if err := validateSegment(parentID); err != nil {
		return nil, WrapError(r.op("scope"), err)
	}
	scoped := *r
	scoped.path = parentCollection + "/" + parentID + "/" + r.path
	return &scoped, nil
}

// Path returns the slash-separated collection path.
func (r *BaseRepository[T]) Path() string { return r.path }

// Collection returns the collection reference.
func (r *BaseRepository[T]) Collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	if r.path == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.path), nil
}

// DocumentRef returns the reference for id, validating it is a single path segment.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if err := validateSegment(id); err != nil {
		return nil, WrapError(r.op("document"), err)
	}
	coll, err := r.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// NewDocumentRef returns a reference with a Firestore-generated id.
func (r *BaseRepository[T]) NewDocumentRef(ctx context.Context) (*firestore.DocumentRef, error) {
	coll, err := r.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.NewDoc(), nil
}

// Get fetches and decodes the document.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.Decode(snap)
}

// Update applies field updates to an existing document.
func (r *BaseRepository[T]) Update(ctx context.Context, id string, updates []firestore.Update) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return WrapError(r.op("update"), err)
	}
	return nil
}

// Delete removes the document; deleting a missing document succeeds.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return WrapError(r.op("delete"), err)
	}
	return nil
}

// Query runs a query over the collection and decodes every result.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.Collection(ctx)
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
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		doc, err := r.Decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Decode converts a snapshot into a typed document.
func (r *BaseRepository[T]) Decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(snap)
	if err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s/%s: %w", r.path, snap.Ref.ID, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       entity,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.path != "" {
		name = r.path
	}
	return name + "." + action
}

func validateSegment(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("firestore: document id is required")
	}
	if strings.Contains(id, "/") {
		return fmt.Errorf("firestore: invalid document id %q", id)
	}
	return nil
}

// StructDecoder populates T using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}

// MapDecoder returns the raw document map.
func MapDecoder() Decoder[map[string]any] {
	return func(snap *firestore.DocumentSnapshot) (map[string]any, error) {
		data := snap.Data()
		if data == nil {
			data = map[string]any{}
		}
		return data, nil
	}
}
