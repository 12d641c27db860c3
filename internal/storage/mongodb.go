package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MereWhiplash/vectorbank/internal/registry"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// MongoDB implements Storage using MongoDB. Each record keeps its vector in
// a field named after its dimension, so a document holds exactly one slot.
type MongoDB struct {
	client  *mongo.Client
	db      *mongo.Database
	records *mongo.Collection
	buckets *mongo.Collection
	reg     *registry.Registry
}

type recordKey struct {
	Collection string `bson:"collection"`
	ID         string `bson:"id"`
}

type bucketKey struct {
	Collection string `bson:"collection"`
	Dimension  int    `bson:"dimension"`
}

// bucketDoc is the MongoDB document structure for bucket metadata
type bucketDoc struct {
	Key       bucketKey `bson:"_id"`
	ModelHint string    `bson:"model_hint"`
	State     string    `bson:"state"`
	Records   int       `bson:"records"`
	Lists     int       `bson:"lists"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoDB creates a new MongoDB storage
func NewMongoDB(ctx context.Context, uri, database string, reg *registry.Registry) (*MongoDB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)

	m := &MongoDB{
		client:  client,
		db:      db,
		records: db.Collection(recordsTable),
		buckets: db.Collection(bucketsTable),
		reg:     reg,
	}

	if err := m.initIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return m, nil
}

func (m *MongoDB) initIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "_id.collection", Value: 1}, {Key: "source_id", Value: 1}}},
		{Keys: bson.D{{Key: "_id.collection", Value: 1}, {Key: "embedding_dimension", Value: 1}}},
	}

	_, err := m.records.Indexes().CreateMany(ctx, indexes)
	return err
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) SaveRecord(ctx context.Context, collection string, rec types.EmbeddingRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, err := m.reg.Resolve(rec.Dimension); err != nil {
		return err
	}

	key := recordKey{Collection: collection, ID: rec.ID}
	doc := bson.D{
		{Key: "_id", Value: key},
		{Key: "source_id", Value: rec.SourceID},
		{Key: "content", Value: rec.Content},
		{Key: "embedding_model", Value: rec.Model},
		{Key: "embedding_dimension", Value: rec.Dimension},
		{Key: "updated_at", Value: rec.UpdatedAt},
		{Key: slotColumn(rec.Dimension), Value: rec.Vector},
	}

	// Replace drops any slot the previous version of the record occupied
	_, err := m.records.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (m *MongoDB) DeleteRecord(ctx context.Context, collection, id string) error {
	result, err := m.records.DeleteOne(ctx, bson.D{{Key: "_id", Value: recordKey{Collection: collection, ID: id}}})
	if err != nil {
		return err
	}

	if result.DeletedCount == 0 {
		return types.ErrNotFound
	}

	return nil
}

func (m *MongoDB) DeleteSource(ctx context.Context, collection, sourceID string) ([]string, error) {
	filter := bson.D{
		{Key: "_id.collection", Value: collection},
		{Key: "source_id", Value: sourceID},
	}

	findOpts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetSort(bson.D{{Key: "_id.id", Value: 1}})

	cursor, err := m.records.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			Key recordKey `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.Key.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := m.records.DeleteMany(ctx, filter); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *MongoDB) LoadRecords(ctx context.Context, collection string, fn func(types.EmbeddingRecord) error) error {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id.id", Value: 1}})

	cursor, err := m.records.Find(ctx, bson.D{{Key: "_id.collection", Value: collection}}, findOpts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc struct {
			Key       recordKey `bson:"_id"`
			SourceID  string    `bson:"source_id"`
			Content   string    `bson:"content"`
			Model     string    `bson:"embedding_model"`
			Dimension int       `bson:"embedding_dimension"`
			UpdatedAt time.Time `bson:"updated_at"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return err
		}

		var vec []float32
		raw, err := cursor.Current.LookupErr(slotColumn(doc.Dimension))
		if err != nil {
			return fmt.Errorf("record %q has no %s slot: %w", doc.Key.ID, slotColumn(doc.Dimension), err)
		}
		if err := raw.Unmarshal(&vec); err != nil {
			return err
		}

		rec := types.EmbeddingRecord{
			ID:        doc.Key.ID,
			SourceID:  doc.SourceID,
			Content:   doc.Content,
			Model:     doc.Model,
			Dimension: doc.Dimension,
			Vector:    vec,
			UpdatedAt: doc.UpdatedAt,
		}
		if err := fn(rec); err != nil {
			return err
		}
	}

	return cursor.Err()
}

func (m *MongoDB) SaveBucket(ctx context.Context, meta types.BucketMeta) error {
	doc := bucketDoc{
		Key:       bucketKey{Collection: meta.Collection, Dimension: meta.Dimension},
		ModelHint: meta.ModelHint,
		State:     string(meta.State),
		Records:   meta.Records,
		Lists:     meta.Lists,
		UpdatedAt: meta.UpdatedAt,
	}

	_, err := m.buckets.ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.Key}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save bucket: %w", err)
	}
	return nil
}

func (m *MongoDB) LoadBuckets(ctx context.Context, collection string) ([]types.BucketMeta, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id.dimension", Value: 1}})

	cursor, err := m.buckets.Find(ctx, bson.D{{Key: "_id.collection", Value: collection}}, findOpts)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	defer cursor.Close(ctx)

	var metas []types.BucketMeta
	for cursor.Next(ctx) {
		var doc bucketDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		metas = append(metas, types.BucketMeta{
			Collection: doc.Key.Collection,
			Dimension:  doc.Key.Dimension,
			ModelHint:  doc.ModelHint,
			State:      types.IndexState(doc.State),
			Records:    doc.Records,
			Lists:      doc.Lists,
			UpdatedAt:  doc.UpdatedAt,
		})
	}

	return metas, cursor.Err()
}
