package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"

	"github.com/easeaico/roza/internal/types"
)

const (
	userCollection        = "user_data"
	botConfigCollection   = "bot_config"
	groupConfigCollection = "group_config"
)

// MongoStore wraps a connected client and the database holding every collection.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects and pings the server.
func OpenMongo(ctx context.Context, url, database string) (*MongoStore, error) {
	clientOpts := options.Client().
		ApplyURI(url).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	if database == "" {
		database = "roza_database"
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// Documents returns the user document repository.
func (m *MongoStore) Documents() DocumentStore {
	return &mongoDocumentStore{coll: m.db.Collection(userCollection)}
}

// Configs returns the bot/group config repository.
func (m *MongoStore) Configs() ConfigStore {
	return &mongoConfigStore{
		bots:   m.db.Collection(botConfigCollection),
		groups: m.db.Collection(groupConfigCollection),
	}
}

// EnsureIndexes creates the unique identity indexes.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	var err error
	_, e := m.db.Collection(userCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bot_id", Value: 1}, {Key: "group_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_bot_group_user"),
	})
	err = multierr.Append(err, e)
	_, e = m.db.Collection(botConfigCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bot_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_bot"),
	})
	err = multierr.Append(err, e)
	_, e = m.db.Collection(groupConfigCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bot_id", Value: 1}, {Key: "group_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_bot_group"),
	})
	err = multierr.Append(err, e)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *MongoStore) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

type mongoDocumentStore struct {
	coll *mongo.Collection
}

func mongoFilter(f Filter) bson.M {
	out := bson.M{}
	if f.BotID != "" {
		out["bot_id"] = f.BotID
	}
	if f.UserID != "" {
		out["user_id"] = f.UserID
	}
	switch {
	case f.GroupID != "" && len(f.ExcludeGroups) > 0:
		out["group_id"] = bson.M{"$eq": f.GroupID, "$nin": f.ExcludeGroups}
	case f.GroupID != "":
		out["group_id"] = f.GroupID
	case len(f.ExcludeGroups) > 0:
		out["group_id"] = bson.M{"$nin": f.ExcludeGroups}
	}
	return out
}

func mongoUpdate(u Update) bson.M {
	out := bson.M{}
	if len(u.Set) > 0 {
		out["$set"] = bson.M(u.Set)
	}
	if len(u.Inc) > 0 {
		inc := bson.M{}
		for k, v := range u.Inc {
			inc[k] = v
		}
		out["$inc"] = inc
	}
	if len(u.Push) > 0 {
		out["$push"] = bson.M(u.Push)
	}
	return out
}

func (s *mongoDocumentStore) FindOne(ctx context.Context, filter Filter) (*types.UserDocument, error) {
	var doc types.UserDocument
	err := s.coll.FindOne(ctx, mongoFilter(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user document: %w", err)
	}
	return &doc, nil
}

func (s *mongoDocumentStore) Find(ctx context.Context, filter Filter, limit int) ([]types.UserDocument, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.coll.Find(ctx, mongoFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query user documents: %w", err)
	}
	var docs []types.UserDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode user documents: %w", err)
	}
	return docs, nil
}

func (s *mongoDocumentStore) Insert(ctx context.Context, doc *types.UserDocument) error {
	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert user document: %w", err)
	}
	return nil
}

func (s *mongoDocumentStore) UpdateOne(ctx context.Context, key types.Key, update Update) (UpdateResult, error) {
	res, err := s.coll.UpdateOne(ctx, mongoFilter(KeyFilter(key)), mongoUpdate(update))
	if err != nil {
		return UpdateResult{}, fmt.Errorf("failed to update user document: %w", err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (s *mongoDocumentStore) UpdateMany(ctx context.Context, filter Filter, update Update) (UpdateResult, error) {
	res, err := s.coll.UpdateMany(ctx, mongoFilter(filter), mongoUpdate(update))
	if err != nil {
		return UpdateResult{}, fmt.Errorf("failed to update user documents: %w", err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

type mongoConfigStore struct {
	bots   *mongo.Collection
	groups *mongo.Collection
}

func (s *mongoConfigStore) GetBotConfig(ctx context.Context, botID string) (*types.BotConfig, error) {
	var cfg types.BotConfig
	err := s.bots.FindOne(ctx, bson.M{"bot_id": botID}).Decode(&cfg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot config: %w", err)
	}
	return &cfg, nil
}

func (s *mongoConfigStore) GetGroupConfig(ctx context.Context, botID, groupID string) (*types.GroupConfig, error) {
	var cfg types.GroupConfig
	err := s.groups.FindOne(ctx, bson.M{"bot_id": botID, "group_id": groupID}).Decode(&cfg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group config: %w", err)
	}
	return &cfg, nil
}

func (s *mongoConfigStore) ListBotConfigs(ctx context.Context) ([]types.BotConfig, error) {
	cursor, err := s.bots.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "bot_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list bot configs: %w", err)
	}
	var out []types.BotConfig
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode bot configs: %w", err)
	}
	return out, nil
}

func (s *mongoConfigStore) SaveBotConfig(ctx context.Context, cfg *types.BotConfig) error {
	_, err := s.bots.ReplaceOne(ctx, bson.M{"bot_id": cfg.BotID}, cfg, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save bot config: %w", err)
	}
	return nil
}

func (s *mongoConfigStore) SaveGroupConfig(ctx context.Context, cfg *types.GroupConfig) error {
	filter := bson.M{"bot_id": cfg.BotID, "group_id": cfg.GroupID}
	_, err := s.groups.ReplaceOne(ctx, filter, cfg, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save group config: %w", err)
	}
	return nil
}
