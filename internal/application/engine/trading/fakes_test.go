package trading_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alejandrodnm/cardbot/internal/application/inventory"
	"github.com/alejandrodnm/cardbot/internal/domain"
)

func testSettings() domain.GameSettings {
	return domain.GameSettings{
		Version:          "0.7.139",
		DECPrice:         0.001,
		XPLevels:         [][]float64{{20, 60, 160}, {100, 300}, {250, 750}, {1000, 3000}},
		CombineRates:     [][]float64{{1, 5, 14, 30, 400}, {1, 5, 115}, {1, 4, 46}, {1, 3, 11}},
		CombineRatesGold: [][]float64{{0, 1, 38}, {0, 1, 22}, {0, 1, 10}, {0, 1, 4}},
		AlphaXP:          []float64{20, 100, 250, 1000},
		GoldXP:           []float64{250, 500, 1000, 2500},
		BetaXP:           []float64{15, 75, 175, 750},
		BetaGoldXP:       []float64{200, 400, 800, 2000},
		DEC: domain.DECSettings{
			UntamedBurnRate: []float64{10, 40, 200, 1000},
			BurnRate:        []float64{15, 60, 300, 1500},
			AlphaBurnBonus:  2,
			PromoBurnBonus:  2,
			MaxBurnBonus:    1.05,
			GoldBurnBonus:   50,
			GoldBurnBonus2:  25,
		},
	}
}

type fakeMarket struct {
	mu        sync.Mutex
	settings  domain.GameSettings
	cards     map[string]domain.CardInstance
	balances  map[string][]domain.Balance
	txs       map[string]domain.TxInfo
	findCalls int
	lookups   int

	catalog    domain.Catalog
	catalogErr error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		settings: testSettings(),
		cards:    make(map[string]domain.CardInstance),
		balances: make(map[string][]domain.Balance),
		txs:      make(map[string]domain.TxInfo),
	}
}

func (f *fakeMarket) Prices(context.Context) ([]domain.MarketPrice, error)         { return nil, nil }
func (f *fakeMarket) ReferenceBids(context.Context) ([]domain.ReferenceBid, error) { return nil, nil }
func (f *fakeMarket) CardListings(context.Context, int, bool) ([]domain.CardListing, error) {
	return nil, nil
}

func (f *fakeMarket) FindCards(_ context.Context, uids []string) ([]domain.CardInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	var out []domain.CardInstance
	for _, uid := range uids {
		if c, ok := f.cards[uid]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeMarket) SaleHistory(context.Context, string) ([]domain.SaleRecord, error) {
	return nil, nil
}

func (f *fakeMarket) LookupTransaction(_ context.Context, id string) (domain.TxInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	info, ok := f.txs[id]
	return info, ok, nil
}

func (f *fakeMarket) Balances(_ context.Context, account string) ([]domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account], nil
}

func (f *fakeMarket) Settings(context.Context) (domain.GameSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

func (f *fakeMarket) CardDetails(context.Context) (domain.Catalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.catalog, f.catalogErr
}

func (f *fakeMarket) setTx(info domain.TxInfo) {
	f.mu.Lock()
	f.txs[info.ID] = info
	f.mu.Unlock()
}

// fakeChain genera ids "<cuenta>-<n>" por cuenta firmante.
type fakeChain struct {
	mu      sync.Mutex
	ops     []domain.CustomJSON
	counts  map[string]int
	fail    bool
	height  func(call int) int64
	heights int
	rc      float64
	events  chan domain.OperationEvent
	errs    chan error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		counts: make(map[string]int),
		height: func(int) int64 { return 1_000_000 },
		rc:     10,
	}
}

func (c *fakeChain) Broadcast(_ context.Context, op domain.CustomJSON) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", errors.New("node unavailable")
	}
	c.ops = append(c.ops, op)
	signer, _ := op.Signer()
	c.counts[signer]++
	return fmt.Sprintf("%s-%d", signer, c.counts[signer]), nil
}

func (c *fakeChain) BlockHeight(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heights++
	return c.height(c.heights), nil
}

func (c *fakeChain) Stream(context.Context, int64) (<-chan domain.OperationEvent, <-chan error) {
	return c.events, c.errs
}

func (c *fakeChain) RCMana(context.Context, string) (float64, error) { return c.rc, nil }

func (c *fakeChain) opsByID(id string) []domain.CustomJSON {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.CustomJSON
	for _, op := range c.ops {
		if op.ID == id {
			out = append(out, op)
		}
	}
	return out
}

type recorded struct {
	account string
	intent  domain.BuyIntent
	tx      domain.TxInfo
}

type fakeTrades struct {
	mu   sync.Mutex
	list []recorded
}

func (f *fakeTrades) RecordPurchase(_ context.Context, account string, in domain.BuyIntent, tx domain.TxInfo, _ domain.PurchaseResult) (domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, recorded{account: account, intent: in, tx: tx})
	return domain.Trade{UID: in.UID, Account: account}, nil
}

func (f *fakeTrades) all() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.list...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	matched  int
	rejected map[string]int
	balances map[string]float64
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{rejected: make(map[string]int), balances: make(map[string]float64)}
}

func (r *fakeRecorder) ListingMatched(int) {
	r.mu.Lock()
	r.matched++
	r.mu.Unlock()
}

func (r *fakeRecorder) ListingRejected(reason string) {
	r.mu.Lock()
	r.rejected[reason]++
	r.mu.Unlock()
}

func (r *fakeRecorder) PurchaseResult(string, int, int) {}
func (r *fakeRecorder) BroadcastDelay(int)              {}

func (r *fakeRecorder) Balance(account string, usd float64) {
	r.mu.Lock()
	r.balances[account] = usd
	r.mu.Unlock()
}

func (r *fakeRecorder) TradeClosed(domain.TradeStatus, float64) {}

func (r *fakeRecorder) matches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matched
}

type fakePricing struct {
	prices []domain.MarketPrice
	err    error
	calls  int
}

func (f *fakePricing) Refresh(context.Context) ([]domain.MarketPrice, error) {
	f.calls++
	return f.prices, f.err
}

type fakeInventory struct {
	mu     sync.Mutex
	batch  *inventory.SellBatch
	sales  int
	checks int
	prices []domain.MarketPrice
	totals domain.Totals
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{batch: inventory.NewSellBatch()}
}

func (f *fakeInventory) Batch() *inventory.SellBatch { return f.batch }

func (f *fakeInventory) ExecuteSales(_ context.Context, b *inventory.SellBatch) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sales++
	n := b.Len()
	b.Drain()
	return n, nil
}

func (f *fakeInventory) Check(_ context.Context, prices []domain.MarketPrice, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	f.prices = prices
	return nil
}

func (f *fakeInventory) Totals(context.Context) (domain.Totals, error) { return f.totals, nil }

type fakeReporter struct {
	mu        sync.Mutex
	summaries []domain.CycleSummary
}

func (r *fakeReporter) ReportInventory(context.Context, []domain.InventoryRow) error { return nil }

func (r *fakeReporter) ReportCycle(_ context.Context, s domain.CycleSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}
