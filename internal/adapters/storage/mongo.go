package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

// TradesCollection guarda los trades y también el documento TOTAL.
const TradesCollection = "Trades"

// MongoStore implementa ports.TradeStore sobre MongoDB.
type MongoStore struct {
	client *mongo.Client
	trades *mongo.Collection
}

// NewMongoStore conecta a uri y usa la base database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("storage.NewMongoStore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("storage.NewMongoStore: ping: %w", err)
	}
	s := NewMongoStoreWithCollection(client.Database(database).Collection(TradesCollection))
	s.client = client
	return s, nil
}

// NewMongoStoreWithCollection usa una colección ya abierta. Close no desconecta el cliente.
func NewMongoStoreWithCollection(coll *mongo.Collection) *MongoStore {
	return &MongoStore{trades: coll}
}

func (s *MongoStore) InsertTrade(ctx context.Context, t domain.Trade) error {
	if _, err := s.trades.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("storage.InsertTrade: %s: %w", t.ID, err)
	}
	return nil
}

func (s *MongoStore) UpdateTrade(ctx context.Context, t domain.Trade) error {
	res, err := s.trades.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return fmt.Errorf("storage.UpdateTrade: %s: %w", t.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("storage.UpdateTrade: %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) FindTradeByUID(ctx context.Context, uid string) (domain.Trade, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "create_date", Value: -1}})
	var t domain.Trade
	err := s.trades.FindOne(ctx, bson.M{"uid": uid}, opts).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Trade{}, ErrNotFound
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.FindTradeByUID: %s: %w", uid, err)
	}
	return t, nil
}

func (s *MongoStore) FindActiveTrades(ctx context.Context, skip, limit int) ([]domain.Trade, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "create_date", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(skip))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	trades, err := s.find(ctx, bson.M{"status_id": domain.StatusIDActive}, opts)
	if err != nil {
		return nil, fmt.Errorf("storage.FindActiveTrades: %w", err)
	}
	return trades, nil
}

func (s *MongoStore) FindFinishedTrades(ctx context.Context) ([]domain.Trade, error) {
	opts := options.Find().SetSort(bson.D{{Key: "create_date", Value: 1}})
	trades, err := s.find(ctx, bson.M{"status_id": domain.StatusIDFinished}, opts)
	if err != nil {
		return nil, fmt.Errorf("storage.FindFinishedTrades: %w", err)
	}
	return trades, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Trade, error) {
	cur, err := s.trades.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []domain.Trade
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadTotals devuelve el documento TOTAL, o uno vacío si todavía no existe.
func (s *MongoStore) LoadTotals(ctx context.Context) (domain.Totals, error) {
	var t domain.Totals
	err := s.trades.FindOne(ctx, bson.M{"_id": domain.TotalsID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Totals{ID: domain.TotalsID}, nil
	}
	if err != nil {
		return domain.Totals{}, fmt.Errorf("storage.LoadTotals: %w", err)
	}
	return t, nil
}

// SaveTotals hace upsert por _id = "TOTAL".
func (s *MongoStore) SaveTotals(ctx context.Context, t domain.Totals) error {
	t.ID = domain.TotalsID
	opts := options.Replace().SetUpsert(true)
	if _, err := s.trades.ReplaceOne(ctx, bson.M{"_id": t.ID}, t, opts); err != nil {
		return fmt.Errorf("storage.SaveTotals: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}
