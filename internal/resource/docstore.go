package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gocloud.dev/docstore"
	_ "gocloud.dev/docstore/memdocstore"
	"gocloud.dev/gcerrors"
)

// docResource is the document shape stored through gocloud docstore. Zero
// claim fields mean "absent". DocstoreRevision carries the optimistic
// concurrency token managed by the driver.
type docResource struct {
	ID               string `docstore:"id"`
	Name             string
	ClaimedBy        string
	ClaimExpiresAt   time.Time
	ClaimMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DocstoreRevision interface{}
}

// DocstoreStore runs on any gocloud docstore driver whose key field is "id".
type DocstoreStore struct {
	collection *docstore.Collection
	now        func() time.Time
}

// OpenDocstoreStore opens a collection by URL, e.g. "mem://resources/id".
func OpenDocstoreStore(ctx context.Context, url string) (*DocstoreStore, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("docstore url is required")
	}
	coll, err := docstore.OpenCollection(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open docstore collection: %w", err)
	}
	return NewDocstoreStore(coll), nil
}

func NewDocstoreStore(collection *docstore.Collection) *DocstoreStore {
	return &DocstoreStore{collection: collection, now: time.Now}
}

func (s *DocstoreStore) Close() error {
	return s.collection.Close()
}

func (s *DocstoreStore) Read(ctx context.Context, id string) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}
	doc, err := s.get(ctx, id)
	if err != nil {
		return Resource{}, err
	}
	return doc.toResource(), nil
}

func (s *DocstoreStore) ConditionalWrite(ctx context.Context, id string, check Precondition, mutate Mutation) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}

	return retryStale(ctx, func() (Resource, error) {
		doc, err := s.get(ctx, id)
		if err != nil {
			return Resource{}, err
		}
		next, err := applyTransition(doc.toResource(), check, mutate, s.now())
		if err != nil {
			return Resource{}, err
		}

		replacement := toDoc(next)
		replacement.DocstoreRevision = doc.DocstoreRevision
		err = s.collection.Replace(ctx, replacement)
		switch gcerrors.Code(err) {
		case gcerrors.OK:
			return next, nil
		case gcerrors.FailedPrecondition:
			return Resource{}, errStaleWrite
		case gcerrors.NotFound:
			return Resource{}, ErrNotFound
		default:
			return Resource{}, fmt.Errorf("resource replace: %w", err)
		}
	})
}

func (s *DocstoreStore) Insert(ctx context.Context, id, name string) (Resource, error) {
	created, err := newRecord(id, name, s.now())
	if err != nil {
		return Resource{}, err
	}
	if err := s.collection.Create(ctx, toDoc(created)); err != nil {
		if gcerrors.Code(err) == gcerrors.AlreadyExists {
			return Resource{}, ErrAlreadyExists
		}
		return Resource{}, fmt.Errorf("resource insert: %w", err)
	}
	return created, nil
}

func (s *DocstoreStore) get(ctx context.Context, id string) (*docResource, error) {
	doc := &docResource{ID: id}
	if err := s.collection.Get(ctx, doc); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resource get: %w", err)
	}
	return doc, nil
}

func toDoc(r Resource) *docResource {
	doc := &docResource{
		ID:           r.ID,
		Name:         r.Name,
		ClaimedBy:    r.ClaimedBy,
		ClaimMessage: r.ClaimMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ClaimExpiresAt != nil {
		doc.ClaimExpiresAt = *r.ClaimExpiresAt
	}
	return doc
}

func (d *docResource) toResource() Resource {
	out := Resource{
		ID:           d.ID,
		Name:         d.Name,
		ClaimedBy:    d.ClaimedBy,
		ClaimMessage: d.ClaimMessage,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if !d.ClaimExpiresAt.IsZero() {
		at := d.ClaimExpiresAt.UTC()
		out.ClaimExpiresAt = &at
	}
	return out
}
