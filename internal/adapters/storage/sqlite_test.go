package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/cardbot/internal/adapters/storage"
	"github.com/alejandrodnm/cardbot/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func makeTrade(id, uid string, created time.Time) domain.Trade {
	return domain.Trade{
		ID:           id,
		Account:      "alice",
		UID:          uid,
		CardDetailID: 171,
		CardName:     "Goblin Mech",
		BCX:          1,
		Buy: domain.Acquisition{
			TxID:        "buy-" + id,
			USD:         1,
			DEC:         1000,
			MarketPrice: domain.PriceCeiling{BuyPrice: 1, LowPrice: 1.5},
		},
		Status:     domain.TradeActive,
		StatusID:   domain.StatusIDActive,
		CreateDate: created,
		EditDate:   created,
	}
}

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_InsertAndFindByUID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	old := makeTrade("a", "C4-171-X", t0)
	old.StatusID, old.Status = domain.StatusIDFinished, domain.TradeFinished
	require.NoError(t, s.InsertTrade(ctx, old))
	require.NoError(t, s.InsertTrade(ctx, makeTrade("b", "C4-171-X", t0.Add(time.Hour))))

	got, err := s.FindTradeByUID(ctx, "C4-171-X")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID, "most recent trade of the card")
	assert.Equal(t, "Goblin Mech", got.CardName)
	assert.Equal(t, 1.5, got.Buy.MarketPrice.LowPrice)
	assert.True(t, got.CreateDate.Equal(t0.Add(time.Hour)))
	assert.Nil(t, got.Sell)

	_, err = s.FindTradeByUID(ctx, "C4-171-Y")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Error(t, s.InsertTrade(ctx, makeTrade("a", "C4-171-Z", t0)), "duplicate id")
}

func TestSQLiteStore_UpdateTrade(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tr := makeTrade("a", "C4-171-X", t0)
	require.NoError(t, s.InsertTrade(ctx, tr))

	sold := t0.Add(48 * time.Hour)
	tr.Sell = &domain.Resale{USD: 1.499, BreakEven: 1.031, TxCount: 2, TxID: "sell-1"}
	require.NoError(t, tr.Finish(sold))
	tr.ProfitUSD = 0.439
	require.NoError(t, s.UpdateTrade(ctx, tr))

	got, err := s.FindTradeByUID(ctx, "C4-171-X")
	require.NoError(t, err)
	require.NotNil(t, got.Sell)
	assert.Equal(t, 2, got.Sell.TxCount)
	assert.Equal(t, "sell-1", got.Sell.TxID)
	assert.Equal(t, domain.StatusIDFinished, got.StatusID)
	require.NotNil(t, got.SellDate)
	assert.True(t, got.SellDate.Equal(sold))

	active, err := s.FindActiveTrades(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	err = s.UpdateTrade(ctx, makeTrade("ghost", "C4-171-G", t0))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteStore_FindActiveTradesPages(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("t%d", i)
		require.NoError(t, s.InsertTrade(ctx, makeTrade(id, "C4-171-"+id, t0.Add(time.Duration(i)*time.Minute))))
	}
	done := makeTrade("t0", "C4-171-done", t0)
	done.StatusID, done.Status = domain.StatusIDFinished, domain.TradeFinished
	require.NoError(t, s.InsertTrade(ctx, done))

	page, err := s.FindActiveTrades(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "t3", page[0].ID)
	assert.Equal(t, "t4", page[1].ID)

	all, err := s.FindActiveTrades(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	finished, err := s.FindFinishedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, "t0", finished[0].ID)
}

func TestSQLiteStore_Totals(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	empty, err := s.LoadTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TotalsID, empty.ID)
	assert.Zero(t, empty.ProfitUSD)

	tt := domain.Totals{}
	tt.AddProfit(1.5, true, t0)
	tt.SetUnsold([]domain.Trade{makeTrade("a", "C4-171-X", t0)})
	require.NoError(t, s.SaveTotals(ctx, tt))

	tt.AddProfit(0.5, true, t0)
	require.NoError(t, s.SaveTotals(ctx, tt))

	got, err := s.LoadTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TotalsID, got.ID)
	assert.InDelta(t, 2.0, got.ProfitUSD, 1e-9)
	assert.Equal(t, 2, got.SoldCards)
	assert.InDelta(t, 2.0, got.Monthly["2024-03"], 1e-9)
	assert.Equal(t, 1, got.Unsold.Cards)
}

func TestOpen(t *testing.T) {
	s, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = storage.Open(context.Background(), storage.Config{Driver: "redis"})
	assert.ErrorContains(t, err, "unknown driver")
}
