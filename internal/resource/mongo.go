package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// bsonResource is the stored document. Version is bumped on every write and
// guards ReplaceOne so that concurrent writers cannot both win.
type bsonResource struct {
	ID             string     `bson:"_id"`
	Name           string     `bson:"name"`
	ClaimedBy      string     `bson:"claimedBy,omitempty"`
	ClaimExpiresAt *time.Time `bson:"claimExpiresAt,omitempty"`
	ClaimMessage   string     `bson:"claimMessage,omitempty"`
	CreatedAt      time.Time  `bson:"createdAt"`
	UpdatedAt      time.Time  `bson:"updatedAt"`
	Version        int64      `bson:"version"`
}

type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoStore(ctx context.Context, uri, dbName, collectionName string) (*MongoStore, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, errors.New("mongo uri is required")
	}
	if strings.TrimSpace(dbName) == "" {
		dbName = "leasehold"
	}
	if strings.TrimSpace(collectionName) == "" {
		collectionName = "resources"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection(collectionName),
		now:        time.Now,
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Read(ctx context.Context, id string) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}
	doc, err := s.find(ctx, id)
	if err != nil {
		return Resource{}, err
	}
	return doc.toResource(), nil
}

func (s *MongoStore) ConditionalWrite(ctx context.Context, id string, check Precondition, mutate Mutation) (Resource, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Resource{}, err
	}

	return retryStale(ctx, func() (Resource, error) {
		doc, err := s.find(ctx, id)
		if err != nil {
			return Resource{}, err
		}
		next, err := applyTransition(doc.toResource(), check, mutate, s.now())
		if err != nil {
			return Resource{}, err
		}

		replacement := fromResource(next, doc.Version+1)
		res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": id, "version": doc.Version}, replacement)
		if err != nil {
			return Resource{}, fmt.Errorf("resource replace: %w", err)
		}
		if res.MatchedCount == 0 {
			return Resource{}, errStaleWrite
		}
		return replacement.toResource(), nil
	})
}

func (s *MongoStore) Insert(ctx context.Context, id, name string) (Resource, error) {
	created, err := newRecord(id, name, s.now())
	if err != nil {
		return Resource{}, err
	}
	doc := fromResource(created, 1)
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Resource{}, ErrAlreadyExists
		}
		return Resource{}, fmt.Errorf("resource insert: %w", err)
	}
	return doc.toResource(), nil
}

func (s *MongoStore) find(ctx context.Context, id string) (bsonResource, error) {
	var doc bsonResource
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return bsonResource{}, ErrNotFound
		}
		return bsonResource{}, fmt.Errorf("resource find: %w", err)
	}
	return doc, nil
}

// fromResource truncates timestamps to the millisecond precision BSON dates
// can hold.
func fromResource(r Resource, version int64) bsonResource {
	doc := bsonResource{
		ID:           r.ID,
		Name:         r.Name,
		ClaimedBy:    r.ClaimedBy,
		ClaimMessage: r.ClaimMessage,
		CreatedAt:    r.CreatedAt.Truncate(time.Millisecond),
		UpdatedAt:    r.UpdatedAt.Truncate(time.Millisecond),
		Version:      version,
	}
	if r.ClaimExpiresAt != nil {
		at := r.ClaimExpiresAt.Truncate(time.Millisecond)
		doc.ClaimExpiresAt = &at
	}
	return doc
}

func (d bsonResource) toResource() Resource {
	out := Resource{
		ID:           d.ID,
		Name:         d.Name,
		ClaimedBy:    d.ClaimedBy,
		ClaimMessage: d.ClaimMessage,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if d.ClaimExpiresAt != nil {
		at := d.ClaimExpiresAt.UTC()
		out.ClaimExpiresAt = &at
	}
	return out
}
