package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps one BSON document per record, addressed by the string "id" field.
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
	logger *logrus.Entry
}

var _ DocumentStore = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, logger *logrus.Entry, uri string, database string, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	col := client.Database(database).Collection(collection)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "uploadTime", Value: -1}}},
	}
	if _, err := col.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.WithError(err).Warn("Could not ensure mongo indexes")
	}

	return &MongoStore{client: client, col: col, logger: logger}, nil
}

func (m *MongoStore) Create(ctx context.Context, doc *model.Document) error {
	doc.Version = 1
	if _, err := m.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func (m *MongoStore) Get(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := m.col.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return &doc, nil
}

// Save replaces the record only when the stored version still matches.
func (m *MongoStore) Save(ctx context.Context, doc *model.Document) error {
	expected := doc.Version
	next := doc.Clone()
	next.Version = expected + 1

	res, err := m.col.ReplaceOne(ctx, bson.M{"id": doc.ID, "version": expected}, next)
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.ID, err)
	}
	if res.MatchedCount == 0 {
		count, err := m.col.CountDocuments(ctx, bson.M{"id": doc.ID})
		if err != nil {
			return err
		}
		if count == 0 {
			return model.ErrDocumentNotFound
		}
		return model.ErrVersionConflict
	}

	doc.Version = next.Version
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := m.col.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return model.ErrDocumentNotFound
	}
	return nil
}

func (m *MongoStore) List(ctx context.Context) ([]*model.Document, error) {
	cur, err := m.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "uploadTime", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer cur.Close(ctx)

	out := []*model.Document{}
	for cur.Next(ctx) {
		var doc model.Document
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, &doc)
	}
	return out, cur.Err()
}

func (m *MongoStore) Close() error {
	return m.client.Disconnect(context.Background())
}
