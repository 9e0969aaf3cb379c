package cart

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store using MongoDB.
type MongoStore struct {
	client  *mongo.Client
	carts   *mongo.Collection
	temps   *mongo.Collection
	backups *mongo.Collection
}

// NewMongoStore connects and prepares the cart collections.
func NewMongoStore(connectionString, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:  client,
		carts:   db.Collection("carritos"),
		temps:   db.Collection("carritos_temp"),
		backups: db.Collection("carritos_backup"),
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{s.carts, s.temps} {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("create cart indexes: %w", err)
		}
	}
	_, err := s.backups.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "reference", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create backup indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) getFrom(ctx context.Context, coll *mongo.Collection, userID string) (Cart, error) {
	var c Cart
	err := coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return Cart{}, ErrNotFound
	}
	if err != nil {
		return Cart{}, fmt.Errorf("find cart: %w", err)
	}
	return c, nil
}

func (s *MongoStore) saveTo(ctx context.Context, coll *mongo.Collection, c Cart) error {
	c.UpdatedAt = time.Now()
	_, err := coll.ReplaceOne(ctx,
		bson.M{"user_id": c.UserID},
		c,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (s *MongoStore) deleteFrom(ctx context.Context, coll *mongo.Collection, userID string) error {
	if _, err := coll.DeleteOne(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, userID string) (Cart, error) {
	return s.getFrom(ctx, s.carts, userID)
}

func (s *MongoStore) Save(ctx context.Context, c Cart) error {
	return s.saveTo(ctx, s.carts, c)
}

func (s *MongoStore) Delete(ctx context.Context, userID string) error {
	return s.deleteFrom(ctx, s.carts, userID)
}

func (s *MongoStore) GetTemp(ctx context.Context, userID string) (Cart, error) {
	return s.getFrom(ctx, s.temps, userID)
}

func (s *MongoStore) SaveTemp(ctx context.Context, c Cart) error {
	return s.saveTo(ctx, s.temps, c)
}

func (s *MongoStore) DeleteTemp(ctx context.Context, userID string) error {
	return s.deleteFrom(ctx, s.temps, userID)
}

func (s *MongoStore) SaveBackup(ctx context.Context, b Backup) error {
	b.CreatedAt = time.Now()
	_, err := s.backups.ReplaceOne(ctx,
		bson.M{"reference": b.Reference},
		b,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save cart backup: %w", err)
	}
	return nil
}

func (s *MongoStore) GetBackup(ctx context.Context, reference string) (Backup, error) {
	var b Backup
	err := s.backups.FindOne(ctx, bson.M{"reference": reference}).Decode(&b)
	if err == mongo.ErrNoDocuments {
		return Backup{}, ErrNotFound
	}
	if err != nil {
		return Backup{}, fmt.Errorf("find cart backup: %w", err)
	}
	return b, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
