package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/alejandrodnm/cardbot/internal/application/engine"
	"github.com/alejandrodnm/cardbot/internal/domain"
)

// Check revisa los trades activos contra el estado vivo de sus cartas.
// Corre como mucho una vez por CheckInterval salvo force, y nunca dos a la vez.
func (l *Ledger) Check(ctx context.Context, prices []domain.MarketPrice, force bool) error {
	if !l.running.CompareAndSwap(false, true) {
		slog.Debug("inventory: check already running")
		return nil
	}
	defer l.running.Store(false)

	l.checkMu.Lock()
	now := l.now()
	if !force && !l.lastCheck.IsZero() && now.Sub(l.lastCheck) < l.cfg.CheckInterval {
		l.checkMu.Unlock()
		return nil
	}
	l.lastCheck = now
	l.checkMu.Unlock()

	skip := 0
	seen := make(map[string]bool)
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		trades, err := l.store.FindActiveTrades(ctx, skip, l.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("inventory.Check: page %d: %w", page, err)
		}
		fresh := lo.Filter(trades, func(t domain.Trade, _ int) bool { return !seen[t.ID] })
		if len(fresh) == 0 {
			return nil
		}
		for _, t := range fresh {
			seen[t.ID] = true
		}

		// los trades que pasan a Finished/Closed salen del conjunto activo,
		// así que el offset solo avanza por los que siguen activos
		skip += l.checkPage(ctx, fresh, prices) + len(trades) - len(fresh)
		if len(trades) < l.cfg.PageSize {
			return nil
		}
	}
}

// checkPage procesa una página y devuelve cuántos trades siguen activos.
func (l *Ledger) checkPage(ctx context.Context, trades []domain.Trade, prices []domain.MarketPrice) int {
	uids := lo.Map(trades, func(t domain.Trade, _ int) string { return t.UID })
	cards, err := l.market.FindCards(ctx, uids)
	if err != nil {
		slog.Warn("inventory: card lookup failed", "cards", len(uids), "err", err)
		return len(trades)
	}
	live := lo.KeyBy(cards, func(c domain.CardInstance) string { return c.UID })

	active := 0
	var rows []domain.InventoryRow
	for i := range trades {
		t := &trades[i]
		c, ok := live[t.UID]
		if !ok {
			active++
			continue
		}
		l.checkTrade(ctx, t, c, prices)
		if t.StatusID != domain.StatusIDActive {
			continue
		}
		active++
		rows = append(rows, domain.NewInventoryRow(*t, c))
	}

	if l.reporter != nil && len(rows) > 0 {
		if err := l.reporter.ReportInventory(ctx, rows); err != nil {
			slog.Warn("inventory: report failed", "err", err)
		}
	}
	return active
}

func (l *Ledger) checkTrade(ctx context.Context, t *domain.Trade, live domain.CardInstance, prices []domain.MarketPrice) {
	if l.backfill(t, live) {
		if err := l.persist(ctx, t); err != nil {
			slog.Warn("inventory: backfill update failed", "uid", t.UID, "err", err)
		}
	}

	switch {
	case live.Player != t.Account:
		l.finish(ctx, t)
	case live.CombinedCardID != "" || live.XP != t.XP:
		l.close(ctx, t)
	case t.IsManual:
		return
	case live.XP == 1 && live.ListedForSale():
		l.reprice(ctx, t, live)
	case relistable(live, l.now()):
		l.relist(ctx, t, live.Gold, prices)
	}
}

// backfill completa los campos que faltan en trades viejos o cargados a mano.
func (l *Ledger) backfill(t *domain.Trade, live domain.CardInstance) bool {
	if t.XP != 0 {
		return false
	}
	t.XP = live.XP
	t.CardDetailID = live.CardDetailID
	if live.Details.Name != "" {
		t.CardName = live.Details.Name
	}
	if t.CreateDate.IsZero() {
		t.CreateDate = l.now()
	}
	if t.BCX == 0 {
		t.BCX = live.BCX
	}
	t.Gold = live.Gold
	if t.Buy.USD == 0 {
		t.Buy.USD = live.LastBuyPrice.Float()
	}
	if t.Sell == nil {
		count := 0
		if live.ListedForSale() {
			count = 1
		}
		t.Sell = &domain.Resale{
			USD:       live.BuyPrice.Float(),
			TxID:      live.MarketID,
			TxCount:   count,
			BreakEven: domain.BreakEven(t.Buy.USD),
		}
	}
	if live.BuyPrice > 0 {
		domain.ApplyProfit(t, live.BuyPrice.Float())
	}
	return true
}

// relistable: sin publicar, sin delegar, sin lock y fuera de tierras (o ya desbloqueada).
func relistable(c domain.CardInstance, now time.Time) bool {
	if c.MarketListingType != "" || c.DelegatedTo != "" || c.LockDays > 0 {
		return false
	}
	if c.StakePlot == "" {
		return true
	}
	end, err := time.Parse(time.RFC3339, c.StakeEndDate)
	if err != nil {
		return false
	}
	return now.After(end)
}

func (l *Ledger) finish(ctx context.Context, t *domain.Trade) {
	// sin precio de venta el trade sigue activo y se reintenta en el próximo chequeo
	history, err := l.market.SaleHistory(ctx, t.UID)
	if err != nil {
		slog.Warn("inventory: sale history failed", "uid", t.UID, "err", err)
		return
	}
	price := domain.SalePrice(history, t.Account)
	if price <= 0 {
		slog.Debug("inventory: sale not in history yet", "uid", t.UID, "account", t.Account)
		return
	}
	domain.ApplyProfit(t, price)

	fee := t.ProfitUSD * l.cfg.ProfitFeePct / 100
	if fee > 0 && l.cfg.FeeAccount != "" {
		if err := l.transferFee(ctx, t.Account, fee); err != nil {
			slog.Warn("inventory: fee transfer failed", "account", t.Account, "fee", fee, "err", err)
		}
	}

	if err := t.Finish(l.now()); err != nil {
		slog.Warn("inventory: finish", "uid", t.UID, "err", err)
		return
	}
	if err := l.persist(ctx, t); err != nil {
		slog.Warn("inventory: finish update failed", "uid", t.UID, "err", err)
		return
	}
	l.refreshTotals(ctx, t.ProfitUSD, true)
	l.rec.TradeClosed(t.Status, t.ProfitUSD)
	slog.Info("inventory: card sold",
		"account", t.Account, "uid", t.UID, "card", t.CardName,
		"profit", t.ProfitUSD, "margin", t.ProfitMargin)
}

func (l *Ledger) close(ctx context.Context, t *domain.Trade) {
	if err := t.Close(); err != nil {
		slog.Warn("inventory: close", "uid", t.UID, "err", err)
		return
	}
	if err := l.persist(ctx, t); err != nil {
		slog.Warn("inventory: close update failed", "uid", t.UID, "err", err)
		return
	}
	l.refreshTotals(ctx, 0, false)
	l.rec.TradeClosed(t.Status, 0)
	slog.Info("inventory: card combined or burned", "account", t.Account, "uid", t.UID)
}

func (l *Ledger) reprice(ctx context.Context, t *domain.Trade, live domain.CardInstance) {
	res, err := l.repricer.Reprice(ctx, *t, live)
	if err != nil {
		slog.Warn("inventory: reprice failed", "uid", t.UID, "err", err)
		return
	}
	if res == nil {
		return
	}

	be := t.BreakEvenPrice()
	count := 0
	if t.Sell != nil {
		count = t.Sell.TxCount
	}
	t.Sell = &domain.Resale{USD: res.NewPrice, TxID: res.TxID, BreakEven: be, TxCount: count + 1}
	domain.ApplyProfit(t, res.NewPrice)

	if err := l.persist(ctx, t); err != nil {
		slog.Warn("inventory: reprice update failed", "uid", t.UID, "err", err)
		return
	}
	slog.Info("inventory: price changed",
		"uid", t.UID, "card", t.CardName, "from", res.OldPrice, "to", res.NewPrice,
		"profit", t.ProfitUSD, "margin", t.ProfitMargin)
}

func (l *Ledger) relist(ctx context.Context, t *domain.Trade, gold bool, prices []domain.MarketPrice) {
	row, ok := domain.FindMarketPrice(prices, t.CardDetailID, gold)
	if !ok {
		return
	}
	market := row.LowPrice
	if t.BCX > 1 {
		market = row.LowPriceBCX
	}

	if t.Sell == nil {
		t.Sell = &domain.Resale{}
	}
	if t.Sell.BreakEven == 0 {
		t.Sell.BreakEven = domain.BreakEven(t.Buy.USD)
	}
	be := t.Sell.BreakEven
	if market <= be {
		return
	}

	pct := 0.0
	if be > 0 {
		pct = 100 - math.Trunc(t.Buy.USD/be*100)
	}
	sp := domain.SellPrice(market, t.Buy.USD, pct)
	domain.ApplyProfit(t, sp)
	if err := l.persist(ctx, t); err != nil {
		slog.Warn("inventory: relist update failed", "uid", t.UID, "err", err)
		return
	}
	l.batch.Add(t.Account, domain.NewSellOrder(t.UID, sp))
	slog.Info("inventory: card back to market", "uid", t.UID, "card", t.CardName, "price", sp, "profit", t.ProfitUSD)
}

func (l *Ledger) transferFee(ctx context.Context, account string, feeUSD float64) error {
	gs, err := l.market.Settings(ctx)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if gs.DECPrice <= 0 {
		return fmt.Errorf("unknown DEC price")
	}
	op, err := domain.NewActiveOp(account, domain.OpTokenTransfer, map[string]any{
		"token": "DEC",
		"to":    l.cfg.FeeAccount,
		"qty":   math.Ceil(feeUSD/gs.DECPrice*100) / 100,
		"memo":  l.cfg.FeeAccount,
		"app":   "splinterlands/" + gs.Version,
		"n":     engine.Nonce(10),
	})
	if err != nil {
		return err
	}
	_, err = l.chain.Broadcast(ctx, op)
	return err
}

// Report arma la tabla de inventario de todos los trades activos sin tocar
// su estado. Las cartas que ya no aparecen en el mercado se omiten.
func (l *Ledger) Report(ctx context.Context) ([]domain.InventoryRow, error) {
	trades, err := l.store.FindActiveTrades(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("inventory.Report: %w", err)
	}

	var rows []domain.InventoryRow
	for _, page := range lo.Chunk(trades, l.cfg.PageSize) {
		uids := lo.Map(page, func(t domain.Trade, _ int) string { return t.UID })
		cards, err := l.market.FindCards(ctx, uids)
		if err != nil {
			return nil, fmt.Errorf("inventory.Report: find cards: %w", err)
		}
		live := lo.KeyBy(cards, func(c domain.CardInstance) string { return c.UID })
		for _, t := range page {
			if c, ok := live[t.UID]; ok {
				rows = append(rows, domain.NewInventoryRow(t, c))
			}
		}
	}

	if l.reporter != nil {
		if err := l.reporter.ReportInventory(ctx, rows); err != nil {
			return rows, fmt.Errorf("inventory.Report: %w", err)
		}
	}
	return rows, nil
}
