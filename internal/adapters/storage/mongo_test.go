package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/alejandrodnm/cardbot/internal/adapters/storage"
	"github.com/alejandrodnm/cardbot/internal/domain"
)

func toDoc(t testing.TB, v any) bson.D {
	t.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(t, err)
	var d bson.D
	require.NoError(t, bson.Unmarshal(raw, &d))
	return d
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("insert", func(mt *mtest.T) {
		s := storage.NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		require.NoError(mt, s.InsertTrade(context.Background(), makeTrade("a", "C4-171-X", t0)))
	})

	mt.Run("find by uid", func(mt *mtest.T) {
		s := storage.NewMongoStoreWithCollection(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, toDoc(mt, makeTrade("b", "C4-171-X", t0))))

		got, err := s.FindTradeByUID(context.Background(), "C4-171-X")
		require.NoError(mt, err)
		assert.Equal(mt, "b", got.ID)
		assert.Equal(mt, 171, got.CardDetailID)
		assert.True(mt, got.CreateDate.Equal(t0))
	})

	mt.Run("find by uid not found", func(mt *mtest.T) {
		s := storage.NewMongoStoreWithCollection(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := s.FindTradeByUID(context.Background(), "C4-171-Y")
		assert.ErrorIs(mt, err, storage.ErrNotFound)
	})

	mt.Run("update missing trade", func(mt *mtest.T) {
		s := storage.NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := s.UpdateTrade(context.Background(), makeTrade("ghost", "C4-171-G", t0))
		assert.ErrorIs(mt, err, storage.ErrNotFound)
	})

	mt.Run("update", func(mt *mtest.T) {
		s := storage.NewMongoStoreWithCollection(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		require.NoError(mt, s.UpdateTrade(context.Background(), makeTrade("a", "C4-171-X", t0)))
	})

	mt.Run("active trades", func(mt *mtest.T) {
		s := storage.NewMongoStoreWithCollection(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			toDoc(mt, makeTrade("a", "C4-171-A", t0)),
			toDoc(mt, makeTrade("b", "C4-171-B", t0)),
		))

		trades, err := s.FindActiveTrades(context.Background(), 0, 10)
		require.NoError(mt, err)
		require.Len(mt, trades, 2)
		assert.Equal(mt, "C4-171-B", trades[1].UID)
	})

	mt.Run("totals", func(mt *mtest.T) {
		s := storage.NewMongoStoreWithCollection(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		empty, err := s.LoadTotals(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, domain.TotalsID, empty.ID)

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		require.NoError(mt, s.SaveTotals(context.Background(), domain.Totals{ProfitUSD: 2}))
	})
}
