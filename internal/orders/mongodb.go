package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store using MongoDB.
type MongoStore struct {
	client  *mongo.Client
	pedidos *mongo.Collection
}

// NewMongoStore connects and prepares the order collection.
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

	s := &MongoStore{
		client:  client,
		pedidos: client.Database(database).Collection("pedidos"),
	}

	_, err = s.pedidos.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "payment_reference", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create pedido indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Create(ctx context.Context, o Order) (Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = StatusReceived
	}

	if _, err := s.pedidos.InsertOne(ctx, o); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Order{}, ErrDuplicateReference
		}
		return Order{}, fmt.Errorf("insert pedido: %w", err)
	}
	return o, nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (Order, error) {
	var o Order
	err := s.pedidos.FindOne(ctx, filter).Decode(&o)
	if err == mongo.ErrNoDocuments {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("find pedido: %w", err)
	}
	return o, nil
}

func (s *MongoStore) GetByID(ctx context.Context, id string) (Order, error) {
	return s.findOne(ctx, bson.M{"id": id})
}

func (s *MongoStore) GetByReference(ctx context.Context, reference string) (Order, error) {
	return s.findOne(ctx, bson.M{"payment_reference": reference})
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.pedidos.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find pedidos: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Order
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode pedidos: %w", err)
	}
	return out, nil
}

func (s *MongoStore) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	return s.find(ctx, bson.M{"user_id": userID}, limit)
}

func (s *MongoStore) RecentByUser(ctx context.Context, userID string, window time.Duration) (Order, error) {
	var o Order
	err := s.pedidos.FindOne(ctx,
		bson.M{
			"user_id":    userID,
			"created_at": bson.M{"$gte": time.Now().Add(-window)},
		},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&o)
	if err == mongo.ErrNoDocuments {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("find recent pedido: %w", err)
	}
	return o, nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.pedidos.UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("update pedido status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, limit int) ([]Order, error) {
	return s.find(ctx, bson.M{}, limit)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
