package trading_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/cardbot/internal/application/bidbook"
	"github.com/alejandrodnm/cardbot/internal/application/engine/trading"
	"github.com/alejandrodnm/cardbot/internal/domain"
)

type engineFixture struct {
	book      *bidbook.Book
	market    *fakeMarket
	chain     *fakeChain
	trades    *fakeTrades
	rec       *fakeRecorder
	pricing   *fakePricing
	inv       *fakeInventory
	reporter  *fakeReporter
	matcher   *trading.Matcher
	purchaser *trading.Purchaser
	engine    *trading.Engine
}

func newEngineFixture(cfg trading.Config) *engineFixture {
	if cfg.Accounts == nil {
		cfg.Accounts = []trading.Account{alice}
	}
	if cfg.RCWait == 0 {
		cfg.RCWait = time.Millisecond
	}
	f := &engineFixture{
		book:     newBook(fixedBid(1, 1, 0.5)),
		market:   newFakeMarket(),
		chain:    newFakeChain(),
		trades:   &fakeTrades{},
		rec:      newFakeRecorder(),
		pricing:  &fakePricing{},
		inv:      newFakeInventory(),
		reporter: &fakeReporter{},
	}
	f.book.SetCeiling(0, goblin, domain.PriceCeiling{BuyPrice: 0.5, LowPrice: 0.7})
	f.matcher = trading.NewMatcher(f.book, f.market, testCatalog(), nil, f.rec, 0)
	f.purchaser = trading.NewPurchaser(f.book, f.chain, f.market, f.trades, f.rec, cfg.Accounts, fastConfig())
	f.engine = trading.New(f.book, f.pricing, f.matcher, f.purchaser, f.inv, f.market, f.chain, f.reporter, f.rec, cfg)
	return f
}

func sellOp(txID, signer string, listings ...domain.SellListing) domain.OperationEvent {
	body, _ := json.Marshal(listings)
	op := domain.CustomJSON{
		RequiredAuths:        []string{signer},
		RequiredPostingAuths: []string{},
		ID:                   domain.OpSellCards,
		JSON:                 string(body),
	}
	payload, _ := json.Marshal(op)
	return domain.OperationEvent{Name: "custom_json", Payload: payload, TxID: txID, Timestamp: time.Now(), Block: 100}
}

func TestHandleListingEvent_BuysAndExhaustsLine(t *testing.T) {
	f := newEngineFixture(trading.Config{})
	f.purchaser.SetBalance("alice", 10)
	f.market.balances["alice"] = []domain.Balance{{Token: "CREDITS", Balance: 9520}}
	f.market.setTx(domain.TxInfo{
		ID:      "alice-1",
		Success: true,
		Result:  `{"success":true,"num_cards":1,"total_dec":480,"by_seller":[{"seller":"seller","items":["tx1-0"]}]}`,
	})
	ctx := context.Background()

	intents := f.engine.HandleListingEvent(ctx, sellOp("tx1", "seller", listing("C4-171-A", 0.48)))
	require.Len(t, intents, 1)
	assert.Equal(t, "tx1-0", intents[0].SellerTxID)
	f.engine.Wait()

	assert.Equal(t, 0, quantity(t, f.book, 0))
	require.Len(t, f.trades.all(), 1)
	assert.Equal(t, "alice", f.trades.all()[0].account)
	assert.Equal(t, 9.52, f.purchaser.Balance("alice"))

	// la línea quedó en cero: una publicación idéntica ya no se acepta
	assert.Nil(t, f.engine.HandleListingEvent(ctx, sellOp("tx2", "seller", listing("C4-171-B", 0.48))))
	f.engine.Wait()
	assert.Len(t, f.trades.all(), 1)
}

func TestHandleListingEvent_IgnoredOperations(t *testing.T) {
	f := newEngineFixture(trading.Config{})
	f.purchaser.SetBalance("alice", 10)
	ctx := context.Background()

	transfer := sellOp("tx1", "seller", listing("C4-171-A", 0.48))
	transfer.Name = "transfer"
	assert.Nil(t, f.engine.HandleListingEvent(ctx, transfer))

	assert.Nil(t, f.engine.HandleListingEvent(ctx, sellOp("tx2", "alice", listing("C4-171-A", 0.48))), "own listing")

	malformed := sellOp("tx3", "seller")
	var op domain.CustomJSON
	require.NoError(t, json.Unmarshal(malformed.Payload, &op))
	op.JSON = "{"
	malformed.Payload, _ = json.Marshal(op)
	assert.Nil(t, f.engine.HandleListingEvent(ctx, malformed))

	// una carta repetida más veces que el máximo del libro es una publicación masiva
	bulk := sellOp("tx4", "seller", listing("C4-171-A", 0.48), listing("C4-171-B", 0.48))
	assert.Nil(t, f.engine.HandleListingEvent(ctx, bulk))

	f.engine.Wait()
	assert.Equal(t, 0, f.rec.matches())
	assert.Equal(t, 1, quantity(t, f.book, 0))
}

func TestHandleListingEvent_DedupesReplayedTransactions(t *testing.T) {
	f := newEngineFixture(trading.Config{})
	ctx := context.Background()

	// sin saldo: el intent se libera y la línea vuelve a estar disponible
	ev := sellOp("tx1", "seller", listing("C4-171-A", 0.48))
	assert.Nil(t, f.engine.HandleListingEvent(ctx, ev))
	assert.Equal(t, 1, quantity(t, f.book, 0))
	assert.Nil(t, f.engine.HandleListingEvent(ctx, ev))

	assert.Equal(t, 1, f.rec.matches())
}

func TestHandleListingEvent_MinDECPriceSkipsPurchase(t *testing.T) {
	f := newEngineFixture(trading.Config{MinDECPrice: 0.002})
	f.purchaser.SetBalance("alice", 10)

	assert.Nil(t, f.engine.HandleListingEvent(context.Background(), sellOp("tx1", "seller", listing("C4-171-A", 0.48))))
	f.engine.Wait()

	assert.Equal(t, 1, f.rec.matches())
	assert.Equal(t, 1, quantity(t, f.book, 0))
	assert.Empty(t, f.chain.opsByID(domain.OpMarketPurchase))
	assert.Equal(t, 10.0, f.purchaser.Balance("alice"))
}

func TestRunPeriodicCycle(t *testing.T) {
	acc := trading.Account{Name: "alice", Currency: "CREDITS", RCFrom: "bank", RCAmountB: 2}
	f := newEngineFixture(trading.Config{Accounts: []trading.Account{acc}})
	f.chain.rc = 0.5
	f.market.balances["alice"] = []domain.Balance{{Token: "CREDITS", Balance: 3000}}
	f.pricing.prices = []domain.MarketPrice{{CardDetailID: goblin, LowPrice: 0.7}}
	f.inv.batch.Add("alice", domain.NewSellOrder("C4-171-A", 0.8))

	require.NoError(t, f.engine.RunPeriodicCycle(context.Background()))

	assert.Equal(t, 3.0, f.rec.balances["alice"])
	assert.Equal(t, 1, f.pricing.calls)
	assert.Equal(t, f.pricing.prices, f.engine.Prices())
	assert.Equal(t, 1, f.inv.sales)
	assert.Equal(t, 1, f.inv.checks)
	assert.Equal(t, f.pricing.prices, f.inv.prices)

	require.Len(t, f.reporter.summaries, 1)
	s := f.reporter.summaries[0]
	assert.Equal(t, 1, s.ListedCards)
	assert.Equal(t, 1, s.PriceRows)
	assert.Equal(t, map[string]float64{"alice": 3}, s.Balances)
	assert.Equal(t, domain.BookStats{Lines: 1, Priced: 1, Quantity: 1}, s.Book)

	rc := f.chain.opsByID(domain.OpDelegateRC)
	require.Len(t, rc, 2)
	assert.Equal(t, []string{"bank"}, rc[0].RequiredPostingAuths)
	assert.JSONEq(t, `["delegate_rc",{"from":"bank","delegatees":["alice"],"max_rc":0}]`, rc[0].JSON)
	assert.JSONEq(t, `["delegate_rc",{"from":"bank","delegatees":["alice"],"max_rc":2000000000}]`, rc[1].JSON)
}

func TestRunPeriodicCycle_KeepsGoingWithoutMarketData(t *testing.T) {
	f := newEngineFixture(trading.Config{})
	f.pricing.err = errors.New("no market data")

	require.NoError(t, f.engine.RunPeriodicCycle(context.Background()))
	assert.Equal(t, 1, f.inv.checks)
	assert.Nil(t, f.inv.prices)
	assert.Empty(t, f.chain.opsByID(domain.OpDelegateRC))
	require.Len(t, f.reporter.summaries, 1)
}

func TestRunPeriodicCycle_RefreshesCatalog(t *testing.T) {
	f := newEngineFixture(trading.Config{})
	f.market.catalogErr = errors.New("timeout")

	// sin catálogo nuevo el matcher sigue con el anterior
	require.NoError(t, f.engine.RunPeriodicCycle(context.Background()))
	in, ok := f.matcher.Evaluate(context.Background(), listing("C4-171-A", 0.4), "tx-0")
	require.True(t, ok)
	assert.Equal(t, "Goblin Mech", in.CardName)
	f.book.Restore(in.BidIdx, in.CardDetailID, in.Copies())

	f.market.catalogErr = nil
	f.market.catalog = domain.NewCatalog([]domain.CardDetail{
		{ID: goblin, Name: "Goblin Mech (reworked)", Color: "Red", Type: "Monster", Rarity: 1, Editions: "4"},
	})
	require.NoError(t, f.engine.RunPeriodicCycle(context.Background()))
	in, ok = f.matcher.Evaluate(context.Background(), listing("C4-171-B", 0.4), "tx-1")
	require.True(t, ok)
	assert.Equal(t, "Goblin Mech (reworked)", in.CardName)
}

func TestRunPeriodicCycle_ReportsExhaustedLines(t *testing.T) {
	f := newEngineFixture(trading.Config{})
	require.True(t, f.book.Reserve(0, goblin, 1))

	require.NoError(t, f.engine.RunPeriodicCycle(context.Background()))
	require.Len(t, f.reporter.summaries, 1)
	assert.Equal(t, domain.BookStats{}, f.reporter.summaries[0].Book)
}

func TestRun_ProcessesStreamUntilClosed(t *testing.T) {
	f := newEngineFixture(trading.Config{})
	f.chain.events = make(chan domain.OperationEvent, 1)
	f.chain.events <- sellOp("tx1", "seller", listing("C4-171-A", 0.48))
	close(f.chain.events)

	err := f.engine.Run(context.Background(), 0)
	assert.ErrorIs(t, err, trading.ErrStreamClosed)
	assert.Equal(t, 1, f.rec.matches())
	assert.Equal(t, 1, f.pricing.calls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newEngineFixture(trading.Config{})
	f.chain.events = make(chan domain.OperationEvent)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.engine.Run(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
