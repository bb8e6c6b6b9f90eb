package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alejandrodnm/cardbot/internal/domain"
	"github.com/alejandrodnm/cardbot/internal/ports"
)

// memStore es un TradeStore en memoria que copia los trades al guardar y al leer.
type memStore struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
	totals *domain.Totals
	pages  int
}

func newMemStore(trades ...domain.Trade) *memStore {
	s := &memStore{trades: make(map[string]domain.Trade)}
	for _, t := range trades {
		s.trades[t.ID] = cloneTrade(t)
	}
	return s
}

func cloneTrade(t domain.Trade) domain.Trade {
	if t.Sell != nil {
		s := *t.Sell
		t.Sell = &s
	}
	if t.SellDate != nil {
		d := *t.SellDate
		t.SellDate = &d
	}
	return t
}

func (s *memStore) InsertTrade(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; ok {
		return fmt.Errorf("duplicate id %s", t.ID)
	}
	s.trades[t.ID] = cloneTrade(t)
	return nil
}

func (s *memStore) UpdateTrade(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.ID] = cloneTrade(t)
	return nil
}

func (s *memStore) FindTradeByUID(_ context.Context, uid string) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].UID == uid {
			return cloneTrade(all[i]), nil
		}
	}
	return domain.Trade{}, ports.ErrNotFound
}

func (s *memStore) sorted() []domain.Trade {
	out := make([]domain.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreateDate.Equal(out[j].CreateDate) {
			return out[i].CreateDate.Before(out[j].CreateDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memStore) byStatus(status int) []domain.Trade {
	var out []domain.Trade
	for _, t := range s.sorted() {
		if t.StatusID == status {
			out = append(out, cloneTrade(t))
		}
	}
	return out
}

func (s *memStore) FindActiveTrades(_ context.Context, skip, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 {
		s.pages++
	}
	all := s.byStatus(domain.StatusIDActive)
	if skip >= len(all) {
		return nil, nil
	}
	all = all[skip:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *memStore) FindFinishedTrades(context.Context) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byStatus(domain.StatusIDFinished), nil
}

func (s *memStore) LoadTotals(context.Context) (domain.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totals == nil {
		return domain.Totals{ID: domain.TotalsID}, nil
	}
	t := *s.totals
	t.Monthly = make(map[string]float64, len(s.totals.Monthly))
	for k, v := range s.totals.Monthly {
		t.Monthly[k] = v
	}
	return t, nil
}

func (s *memStore) SaveTotals(_ context.Context, t domain.Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals = &t
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) get(id string) domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTrade(s.trades[id])
}

type fakeMarket struct {
	mu         sync.Mutex
	cards      map[string]domain.CardInstance
	listings   map[int][]domain.CardListing
	history    map[string][]domain.SaleRecord
	historyErr error
	settings   domain.GameSettings
	findCalls  int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		cards:    make(map[string]domain.CardInstance),
		listings: make(map[int][]domain.CardListing),
		history:  make(map[string][]domain.SaleRecord),
		settings: domain.GameSettings{DECPrice: 0.001, Version: "0.7.139"},
	}
}

func (f *fakeMarket) Prices(context.Context) ([]domain.MarketPrice, error)         { return nil, nil }
func (f *fakeMarket) ReferenceBids(context.Context) ([]domain.ReferenceBid, error) { return nil, nil }

func (f *fakeMarket) CardListings(_ context.Context, id int, _ bool) ([]domain.CardListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listings[id], nil
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

func (f *fakeMarket) SaleHistory(_ context.Context, uid string) ([]domain.SaleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history[uid], nil
}

func (f *fakeMarket) LookupTransaction(context.Context, string) (domain.TxInfo, bool, error) {
	return domain.TxInfo{}, false, nil
}
func (f *fakeMarket) Balances(context.Context, string) ([]domain.Balance, error) { return nil, nil }
func (f *fakeMarket) Settings(context.Context) (domain.GameSettings, error)      { return f.settings, nil }
func (f *fakeMarket) CardDetails(context.Context) (domain.Catalog, error)        { return nil, nil }

type fakeChain struct {
	mu   sync.Mutex
	ops  []domain.CustomJSON
	fail map[string]bool // por id de operación
}

func (c *fakeChain) Broadcast(_ context.Context, op domain.CustomJSON) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail[op.ID] {
		return "", errors.New("node rejected tx")
	}
	c.ops = append(c.ops, op)
	return fmt.Sprintf("tx-%d", len(c.ops)), nil
}

func (c *fakeChain) BlockHeight(context.Context) (int64, error) { return 0, nil }

func (c *fakeChain) Stream(context.Context, int64) (<-chan domain.OperationEvent, <-chan error) {
	return nil, nil
}

func (c *fakeChain) RCMana(context.Context, string) (float64, error) { return 10, nil }

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

type fakeReporter struct {
	mu   sync.Mutex
	rows [][]domain.InventoryRow
}

func (r *fakeReporter) ReportInventory(_ context.Context, rows []domain.InventoryRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows)
	return nil
}

func (r *fakeReporter) ReportCycle(context.Context, domain.CycleSummary) error { return nil }
