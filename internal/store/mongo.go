package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const mongoConnectTimeout = 10 * time.Second

// MongoStore implements Store on a MongoDB database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to uri and pings the primary before returning.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if dbName == "" {
		return nil, errors.New("mongo database name is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(dbName)}, nil
}

func (s *MongoStore) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// Insert adds a document.
func (s *MongoStore) Insert(ctx context.Context, collection string, doc Doc) (Doc, error) {
	if _, err := s.coll(collection).InsertOne(ctx, bson.M(doc)); err != nil {
		return nil, fmt.Errorf("mongo insert %s: %w", collection, err)
	}
	return cloneDoc(doc), nil
}

// Upsert replaces the first match or inserts.
func (s *MongoStore) Upsert(ctx context.Context, collection string, filter Filter, doc Doc) (Doc, error) {
	replacement := cloneDoc(doc)
	delete(replacement, "_id")
	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll(collection).ReplaceOne(ctx, bson.M(filter), bson.M(replacement), opts); err != nil {
		return nil, fmt.Errorf("mongo upsert %s: %w", collection, err)
	}
	return cloneDoc(doc), nil
}

// UpdateOne applies an update document to the first match.
func (s *MongoStore) UpdateOne(ctx context.Context, collection string, filter Filter, update Doc) (bool, error) {
	res, err := s.coll(collection).UpdateOne(ctx, bson.M(filter), bson.M(update))
	if err != nil {
		return false, fmt.Errorf("mongo update %s: %w", collection, err)
	}
	return res.MatchedCount > 0, nil
}

// FindOneAndUpdate atomically updates and returns the first match in sort
// order.
func (s *MongoStore) FindOneAndUpdate(ctx context.Context, collection string, filter Filter, update Doc, sortBy []SortField) (Doc, bool, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if len(sortBy) > 0 {
		opts = opts.SetSort(sortDoc(sortBy))
	}
	var out bson.M
	err := s.coll(collection).FindOneAndUpdate(ctx, bson.M(filter), bson.M(update), opts).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongo find-and-update %s: %w", collection, err)
	}
	return normalizeDoc(Doc(out)), true, nil
}

// Delete removes every match.
func (s *MongoStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	res, err := s.coll(collection).DeleteMany(ctx, bson.M(filter))
	if err != nil {
		return 0, fmt.Errorf("mongo delete %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// List returns matching documents sorted and limited.
func (s *MongoStore) List(ctx context.Context, collection string, filter Filter, limit int64, sortBy []SortField) ([]Doc, error) {
	opts := options.Find()
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	if len(sortBy) > 0 {
		opts = opts.SetSort(sortDoc(sortBy))
	}
	cursor, err := s.coll(collection).Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo list %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var out []Doc
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo decode %s: %w", collection, err)
		}
		out = append(out, normalizeDoc(Doc(doc)))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor %s: %w", collection, err)
	}
	return out, nil
}

// CreateIndex declares an index on the collection.
func (s *MongoStore) CreateIndex(ctx context.Context, collection string, keys []SortField, unique bool) error {
	model := mongo.IndexModel{Keys: sortDoc(keys)}
	if unique {
		model.Options = options.Index().SetUnique(true)
	}
	if _, err := s.coll(collection).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("mongo create index %s: %w", collection, err)
	}
	return nil
}

// NextID increments and returns the named sequence in the util collection.
func (s *MongoStore) NextID(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var out bson.M
	err := s.coll(CollUtil).FindOneAndUpdate(ctx,
		bson.M{"seq": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		opts,
	).Decode(&out)
	if err != nil {
		return 0, fmt.Errorf("mongo next id %s: %w", name, err)
	}
	value, ok := asFloat(out["value"])
	if !ok {
		return 0, fmt.Errorf("mongo next id %s: non-numeric counter", name)
	}
	return int64(value), nil
}

// SnapshotAll dumps the named collections in order.
func (s *MongoStore) SnapshotAll(ctx context.Context, names []string) (*Snapshot, error) {
	snapshot := &Snapshot{
		Names:       append([]string(nil), names...),
		Collections: make(map[string][]Doc, len(names)),
	}
	for _, name := range names {
		docs, err := s.List(ctx, name, Filter{}, 0, nil)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			delete(doc, "_id")
		}
		snapshot.Collections[name] = docs
	}
	return snapshot, nil
}

// RestoreAll drops and reloads the snapshot's collections.
func (s *MongoStore) RestoreAll(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}
	for _, name := range snapshot.Names {
		if err := s.coll(name).Drop(ctx); err != nil {
			return fmt.Errorf("mongo drop %s: %w", name, err)
		}
		docs := snapshot.Collections[name]
		if len(docs) == 0 {
			continue
		}
		payload := make([]any, len(docs))
		for i, doc := range docs {
			payload[i] = bson.M(doc)
		}
		if _, err := s.coll(name).InsertMany(ctx, payload); err != nil {
			return fmt.Errorf("mongo restore %s: %w", name, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func sortDoc(fields []SortField) bson.D {
	out := make(bson.D, 0, len(fields))
	for _, f := range fields {
		direction := 1
		if f.Desc {
			direction = -1
		}
		out = append(out, bson.E{Key: f.Field, Value: direction})
	}
	return out
}

// normalizeDoc converts bson decode artifacts (bson.M, bson.A, int32) into
// the plain map/slice/int64 shapes the rest of the runtime works with.
func normalizeDoc(doc Doc) Doc {
	out := make(Doc, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch typed := v.(type) {
	case bson.M:
		return normalizeDoc(Doc(typed))
	case map[string]any:
		return normalizeDoc(typed)
	case bson.A:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case int32:
		return int64(typed)
	default:
		return v
	}
}
