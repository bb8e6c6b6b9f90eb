package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/cardbot/internal/application/bidbook"
	"github.com/alejandrodnm/cardbot/internal/application/engine"
	"github.com/alejandrodnm/cardbot/internal/application/inventory"
	"github.com/alejandrodnm/cardbot/internal/domain"
	"github.com/alejandrodnm/cardbot/internal/ports"
)

const (
	defaultCycleInterval = 5 * time.Minute
	defaultRCWait        = 5 * time.Second
	defaultDedupeTTL     = 10 * time.Minute
	minRCMana            = 1 // en miles de millones
)

// ErrStreamClosed indica que el stream del ledger terminó.
var ErrStreamClosed = errors.New("ledger stream closed")

// PriceSync recalcula los techos de precio del libro.
type PriceSync interface {
	Refresh(ctx context.Context) ([]domain.MarketPrice, error)
}

// Inventory es la parte del ledger de inventario que usa el ciclo periódico.
type Inventory interface {
	Batch() *inventory.SellBatch
	ExecuteSales(ctx context.Context, batch *inventory.SellBatch) (int, error)
	Check(ctx context.Context, prices []domain.MarketPrice, force bool) error
	Totals(ctx context.Context) (domain.Totals, error)
}

// Config controla el motor.
type Config struct {
	Accounts      []Account
	MinDECPrice   float64 // por debajo se evalúa pero no se compra
	CycleInterval time.Duration
	RCWait        time.Duration
	DedupeTTL     time.Duration
}

// Engine une el stream del ledger, el matcher, las compras y el ciclo periódico.
type Engine struct {
	book      *bidbook.Book
	pricing   PriceSync
	matcher   *Matcher
	purchaser *Purchaser
	inventory Inventory
	market    ports.Marketplace
	chain     ports.Ledger
	reporter  ports.Reporter
	rec       ports.Recorder
	cfg       Config

	tracked map[string]bool
	seen    *cache.Cache

	pricesMu sync.RWMutex
	prices   []domain.MarketPrice

	cycling atomic.Bool
	wg      sync.WaitGroup
}

// New crea el motor. reporter y rec pueden ser nil.
func New(
	book *bidbook.Book,
	pricing PriceSync,
	matcher *Matcher,
	purchaser *Purchaser,
	inv Inventory,
	market ports.Marketplace,
	chain ports.Ledger,
	reporter ports.Reporter,
	rec ports.Recorder,
	cfg Config,
) *Engine {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = defaultCycleInterval
	}
	if cfg.RCWait <= 0 {
		cfg.RCWait = defaultRCWait
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if rec == nil {
		rec = ports.NopRecorder{}
	}
	tracked := make(map[string]bool, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		tracked[a.Name] = true
	}
	return &Engine{
		book:      book,
		pricing:   pricing,
		matcher:   matcher,
		purchaser: purchaser,
		inventory: inv,
		market:    market,
		chain:     chain,
		reporter:  reporter,
		rec:       rec,
		cfg:       cfg,
		tracked:   tracked,
		seen:      cache.New(cfg.DedupeTTL, 2*cfg.DedupeTTL),
	}
}

// Prices devuelve las filas de precio del último refresh.
func (e *Engine) Prices() []domain.MarketPrice {
	e.pricesMu.RLock()
	defer e.pricesMu.RUnlock()
	return e.prices
}

// RefreshPricing recalcula los techos. Si no hay datos los techos anteriores se mantienen.
func (e *Engine) RefreshPricing(ctx context.Context) ([]domain.MarketPrice, error) {
	prices, err := e.pricing.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("trading.RefreshPricing: %w", err)
	}
	e.pricesMu.Lock()
	e.prices = prices
	e.pricesMu.Unlock()
	slog.Info("trading: prices refreshed", "rows", len(prices))
	return prices, nil
}

// HandleListingEvent evalúa una operación del stream y lanza las compras en
// segundo plano. Devuelve los intents enviados a comprar.
func (e *Engine) HandleListingEvent(ctx context.Context, ev domain.OperationEvent) []domain.BuyIntent {
	op, ok := ev.CustomJSON()
	if !ok || op.ID != domain.OpSellCards {
		return nil
	}
	if signer, _ := op.Signer(); e.tracked[signer] {
		return nil
	}
	// un nodo que reprocesa bloques tras un failover no debe comprar dos veces
	if ev.TxID != "" {
		if err := e.seen.Add(ev.TxID, struct{}{}, cache.DefaultExpiration); err != nil {
			slog.Debug("trading: operation already processed", "tx", ev.TxID)
			return nil
		}
	}

	listings, err := domain.ParseSellListings(op.JSON)
	if err != nil {
		slog.Debug("trading: malformed sell operation", "tx", ev.TxID, "err", err)
		return nil
	}
	if IsBulk(listings, e.book.MaxQuantity()) {
		slog.Debug("trading: bulk listing ignored", "tx", ev.TxID, "listings", len(listings))
		return nil
	}

	var intents []domain.BuyIntent
	for i, l := range listings {
		if in, ok := e.matcher.Evaluate(ctx, l, domain.CorrelationID(ev.TxID, i)); ok {
			intents = append(intents, *in)
		}
	}
	if len(intents) == 0 {
		return nil
	}

	if !e.decPriceOK(ctx) {
		for _, in := range intents {
			e.book.Restore(in.BidIdx, in.CardDetailID, in.Copies())
		}
		return nil
	}

	accepted := make(map[string][]domain.BuyIntent, len(e.cfg.Accounts))
	for _, a := range e.cfg.Accounts {
		if list := e.purchaser.Prepare(a.Name, intents); len(list) > 0 {
			accepted[a.Name] = list
		}
	}
	e.purchaser.ReleaseUnattempted(intents)
	if len(accepted) == 0 {
		return nil
	}

	listed := domain.ListingEvent{TxID: ev.TxID, Timestamp: ev.Timestamp, Block: ev.Block}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		var g errgroup.Group
		for acc, list := range accepted {
			g.Go(func() error {
				return e.purchaser.Execute(ctx, acc, list, listed)
			})
		}
		if err := g.Wait(); err != nil {
			slog.Warn("trading: purchase", "tx", ev.TxID, "err", err)
		}
	}()
	return intents
}

// decPriceOK aplica el precio mínimo del DEC. Sin mínimo configurado siempre compra.
func (e *Engine) decPriceOK(ctx context.Context) bool {
	if e.cfg.MinDECPrice <= 0 {
		return true
	}
	gs, err := e.market.Settings(ctx)
	if err != nil {
		slog.Warn("trading: settings unavailable, purchase skipped", "err", err)
		return false
	}
	if gs.DECPrice < e.cfg.MinDECPrice {
		slog.Info("trading: DEC price below minimum, purchase skipped",
			"dec_price", gs.DECPrice, "min", e.cfg.MinDECPrice)
		return false
	}
	return true
}

// Wait espera a que terminen las compras en curso.
func (e *Engine) Wait() { e.wg.Wait() }

// RunPeriodicCycle refresca saldos y RC, recalcula precios, publica las ventas
// pendientes y revisa el inventario. Nunca corren dos ciclos a la vez.
func (e *Engine) RunPeriodicCycle(ctx context.Context) error {
	if !e.cycling.CompareAndSwap(false, true) {
		slog.Debug("trading: cycle already running")
		return nil
	}
	defer e.cycling.Store(false)
	start := time.Now()

	balances := make(map[string]float64, len(e.cfg.Accounts))
	for _, a := range e.cfg.Accounts {
		usd, err := e.purchaser.RefreshBalance(ctx, a.Name)
		if err != nil {
			slog.Warn("trading: balance refresh failed", "account", a.Name, "err", err)
			usd = e.purchaser.Balance(a.Name)
		}
		balances[a.Name] = usd
		e.rec.Balance(a.Name, usd)
		e.manageRC(ctx, a)
	}
	slog.Info("trading: balances", "usd", balances)

	e.refreshCatalog(ctx)

	prices, err := e.RefreshPricing(ctx)
	if err != nil {
		slog.Warn("trading: pricing refresh failed", "err", err)
	}

	listed, err := e.inventory.ExecuteSales(ctx, e.inventory.Batch())
	if err != nil {
		slog.Warn("trading: sell batch failed", "err", err)
	}

	if err := e.inventory.Check(ctx, prices, false); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("trading.RunPeriodicCycle: %w", err)
		}
		slog.Warn("trading: inventory check failed", "err", err)
	}

	totals, err := e.inventory.Totals(ctx)
	if err != nil {
		slog.Warn("trading: totals", "err", err)
	}
	if e.reporter != nil {
		summary := domain.CycleSummary{
			At:          start,
			Balances:    balances,
			PriceRows:   len(prices),
			ListedCards: listed,
			Duration:    time.Since(start),
			Totals:      totals,
			Book:        bookStats(e.book.Snapshot()),
		}
		if err := e.reporter.ReportCycle(ctx, summary); err != nil {
			slog.Warn("trading: cycle report", "err", err)
		}
	}
	return nil
}

// refreshCatalog actualiza el catálogo del matcher. Si falla o viene vacío
// se sigue con el anterior.
func (e *Engine) refreshCatalog(ctx context.Context) {
	catalog, err := e.market.CardDetails(ctx)
	if err != nil {
		slog.Warn("trading: card catalog refresh failed", "err", err)
		return
	}
	if len(catalog) == 0 {
		return
	}
	e.matcher.SetCatalog(catalog)
}

func bookStats(entries []bidbook.Entry) domain.BookStats {
	var st domain.BookStats
	for _, en := range entries {
		if en.Line.Quantity <= 0 {
			continue
		}
		st.Lines++
		st.Quantity += en.Line.Quantity
		if en.HasCeiling {
			st.Priced++
		}
	}
	return st
}

// manageRC re-delega RC a la cuenta cuando se queda sin mana: primero quita
// la delegación y, tras una espera, la vuelve a poner completa.
func (e *Engine) manageRC(ctx context.Context, a Account) {
	if a.RCFrom == "" || a.RCAmountB <= 0 {
		return
	}
	mana, err := e.chain.RCMana(ctx, a.Name)
	if err != nil {
		slog.Warn("trading: rc mana", "account", a.Name, "err", err)
		return
	}
	if mana >= minRCMana {
		return
	}
	slog.Info("trading: low RC, re-delegating", "account", a.Name, "mana_b", mana, "from", a.RCFrom)
	if err := e.delegateRC(ctx, a.RCFrom, a.Name, 0); err != nil {
		slog.Warn("trading: rc undelegate", "account", a.Name, "err", err)
		return
	}
	if err := engine.Sleep(ctx, e.cfg.RCWait); err != nil {
		return
	}
	if err := e.delegateRC(ctx, a.RCFrom, a.Name, int64(a.RCAmountB*1e9)); err != nil {
		slog.Warn("trading: rc delegate", "account", a.Name, "err", err)
	}
}

func (e *Engine) delegateRC(ctx context.Context, from, to string, maxRC int64) error {
	op, err := domain.NewPostingOp(from, domain.OpDelegateRC, []any{
		"delegate_rc",
		map[string]any{"from": from, "delegatees": []string{to}, "max_rc": maxRC},
	})
	if err != nil {
		return err
	}
	_, err = e.chain.Broadcast(ctx, op)
	return err
}

// Run corre un ciclo inicial y después procesa el stream desde el bloque from,
// con el ciclo periódico cada CycleInterval. Vuelve cuando ctx se cancela o el stream termina.
func (e *Engine) Run(ctx context.Context, from int64) error {
	e.matcher.budget.Start(ctx, time.Minute)

	if err := e.RunPeriodicCycle(ctx); err != nil {
		return fmt.Errorf("trading.Run: first cycle: %w", err)
	}

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	events, errs := e.chain.Stream(ctx, from)
	slog.Info("trading: streaming operations", "from", from, "accounts", e.accountNames())

	for {
		select {
		case <-ctx.Done():
			e.Wait()
			return ctx.Err()

		case <-ticker.C:
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				if err := e.RunPeriodicCycle(ctx); err != nil {
					slog.Warn("trading: cycle", "err", err)
				}
			}()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("trading: stream", "err", err)

		case ev, ok := <-events:
			if !ok {
				e.Wait()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("trading.Run: %w", ErrStreamClosed)
			}
			e.HandleListingEvent(ctx, ev)
		}
	}
}

func (e *Engine) accountNames() []string {
	names := make([]string, 0, len(e.cfg.Accounts))
	for _, a := range e.cfg.Accounts {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}
