// Package inventory sigue cada carta comprada hasta que se vende o desaparece,
// y mantiene sus publicaciones de venta competitivas.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/cardbot/internal/domain"
	"github.com/alejandrodnm/cardbot/internal/ports"
)

const (
	defaultPageSize      = 10
	defaultCheckInterval = time.Hour
	defaultProfitFeePct  = 5
)

// Config controla el chequeo periódico del inventario.
type Config struct {
	Accounts      []string
	PageSize      int
	CheckInterval time.Duration
	ProfitFeePct  float64
	FeeAccount    string // vacío = no se cobra fee
}

// Ledger es la máquina de estados de las cartas compradas.
type Ledger struct {
	store    ports.TradeStore
	market   ports.Marketplace
	chain    ports.Ledger
	reporter ports.Reporter
	rec      ports.Recorder
	repricer *Repricer
	batch    *SellBatch
	cfg      Config

	running   atomic.Bool
	checkMu   sync.Mutex
	lastCheck time.Time
	totalsMu  sync.Mutex

	now func() time.Time
}

// New crea el Ledger. rec puede ser nil.
func New(store ports.TradeStore, market ports.Marketplace, chain ports.Ledger, reporter ports.Reporter, rec ports.Recorder, cfg Config) *Ledger {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.ProfitFeePct <= 0 {
		cfg.ProfitFeePct = defaultProfitFeePct
	}
	if rec == nil {
		rec = ports.NopRecorder{}
	}
	return &Ledger{
		store:    store,
		market:   market,
		chain:    chain,
		reporter: reporter,
		rec:      rec,
		repricer: NewRepricer(market, chain, cfg.Accounts),
		batch:    NewSellBatch(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Batch devuelve el batch de ventas pendiente del ciclo.
func (l *Ledger) Batch() *SellBatch { return l.batch }

// RecordPurchase registra una compra liquidada y, si el bid lo pide, encola su reventa.
func (l *Ledger) RecordPurchase(ctx context.Context, account string, in domain.BuyIntent, tx domain.TxInfo, res domain.PurchaseResult) (domain.Trade, error) {
	now := l.now()
	created := tx.CreatedDate
	if created.IsZero() {
		created = now
	}

	dec := 0.0
	if n := len(res.Items()); n > 0 {
		dec = res.TotalDEC / float64(n)
	}

	t := domain.Trade{
		ID:           uuid.NewString(),
		Account:      account,
		UID:          in.UID,
		CardDetailID: in.CardDetailID,
		CardName:     in.CardName,
		BCX:          in.BCX,
		Gold:         in.Gold,
		Buy: domain.Acquisition{
			TxID:        tx.ID,
			USD:         in.Price,
			DEC:         dec,
			MarketPrice: in.Ceiling,
		},
		Sell:       &domain.Resale{},
		Status:     domain.TradeActive,
		StatusID:   domain.StatusIDActive,
		CreateDate: created,
		EditDate:   now,
		BidIdx:     in.BidIdx,
		BidDesc:    in.BidDesc,
	}

	if in.SellForPctMore > 0 {
		market := in.Ceiling.ResaleReference(in.BCX)
		sp := domain.SellPrice(market, in.Price, in.SellForPctMore)
		domain.ApplyProfit(&t, sp)
		l.batch.Add(account, domain.NewSellOrder(in.UID, sp))
		slog.Info("inventory: resale queued", "account", account, "uid", in.UID, "price", sp, "profit", t.ProfitUSD)
	}

	if err := l.store.InsertTrade(ctx, t); err != nil {
		return t, fmt.Errorf("inventory.RecordPurchase: %w", err)
	}
	return t, nil
}

// ExecuteSales publica en el mercado todo lo encolado en batch, una operación por cuenta.
// Devuelve cuántas cartas quedaron publicadas.
func (l *Ledger) ExecuteSales(ctx context.Context, batch *SellBatch) (int, error) {
	pending := batch.Drain()
	if len(pending) == 0 {
		return 0, nil
	}

	accounts := make([]string, 0, len(pending))
	for acc := range pending {
		accounts = append(accounts, acc)
	}
	sort.Strings(accounts)

	listed := 0
	for _, acc := range accounts {
		orders := pending[acc]
		op, err := domain.NewActiveOp(acc, domain.OpSellCards, orders)
		if err != nil {
			return listed, fmt.Errorf("inventory.ExecuteSales: %w", err)
		}
		txID, err := l.chain.Broadcast(ctx, op)
		if err != nil {
			slog.Warn("inventory: sell broadcast failed", "account", acc, "cards", len(orders), "err", err)
			continue
		}
		slog.Info("inventory: cards listed", "account", acc, "cards", len(orders), "tx", txID)

		for _, o := range orders {
			uid := ""
			if len(o.Cards) > 0 {
				uid = o.Cards[0]
			}
			t, err := l.store.FindTradeByUID(ctx, uid)
			if err != nil {
				if !errors.Is(err, ports.ErrNotFound) {
					slog.Warn("inventory: trade lookup failed", "uid", uid, "err", err)
				}
				continue
			}
			if t.Sell == nil {
				continue
			}
			t.Sell.TxID = txID
			t.Sell.TxCount++
			if err := l.persist(ctx, &t); err != nil {
				slog.Warn("inventory: trade update failed", "uid", uid, "err", err)
				continue
			}
			listed++
			l.refreshTotals(ctx, 0, false)
		}
	}
	return listed, nil
}

// RecalculateTotals reconstruye el beneficio realizado a partir de los trades Finished.
func (l *Ledger) RecalculateTotals(ctx context.Context) (domain.Totals, error) {
	finished, err := l.store.FindFinishedTrades(ctx)
	if err != nil {
		return domain.Totals{}, fmt.Errorf("inventory.RecalculateTotals: %w", err)
	}

	l.totalsMu.Lock()
	totals, err := l.store.LoadTotals(ctx)
	if err != nil {
		l.totalsMu.Unlock()
		return domain.Totals{}, fmt.Errorf("inventory.RecalculateTotals: load: %w", err)
	}
	totals.ID = domain.TotalsID
	totals.SoldCards = len(finished)
	totals.ProfitUSD = 0
	totals.Monthly = make(map[string]float64)
	for _, t := range finished {
		totals.ProfitUSD += t.ProfitUSD
		if t.SellDate == nil {
			continue
		}
		totals.Monthly[domain.MonthKey(*t.SellDate)] += t.ProfitUSD
	}
	err = l.store.SaveTotals(ctx, totals)
	l.totalsMu.Unlock()
	if err != nil {
		return domain.Totals{}, fmt.Errorf("inventory.RecalculateTotals: save: %w", err)
	}

	return l.refreshTotals(ctx, 0, false), nil
}

// Totals devuelve el documento de totales actual.
func (l *Ledger) Totals(ctx context.Context) (domain.Totals, error) {
	return l.store.LoadTotals(ctx)
}

// refreshTotals suma profit al rollup y recalcula la exposición sin vender.
// Los errores se loguean: los totales se pueden reconstruir con RecalculateTotals.
func (l *Ledger) refreshTotals(ctx context.Context, profit float64, sold bool) domain.Totals {
	l.totalsMu.Lock()
	defer l.totalsMu.Unlock()

	totals, err := l.store.LoadTotals(ctx)
	if err != nil {
		slog.Warn("inventory: load totals failed", "err", err)
		return totals
	}
	totals.ID = domain.TotalsID
	totals.AddProfit(profit, sold, l.now())

	active, err := l.store.FindActiveTrades(ctx, 0, 0)
	if err != nil {
		slog.Warn("inventory: active trades for totals failed", "err", err)
	} else {
		totals.SetUnsold(active)
	}

	if err := l.store.SaveTotals(ctx, totals); err != nil {
		slog.Warn("inventory: save totals failed", "err", err)
	}
	return totals
}

func (l *Ledger) persist(ctx context.Context, t *domain.Trade) error {
	t.EditDate = l.now()
	return l.store.UpdateTrade(ctx, *t)
}
