package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/alejandrodnm/cardbot/internal/application/bidbook"
	"github.com/alejandrodnm/cardbot/internal/application/engine"
	"github.com/alejandrodnm/cardbot/internal/domain"
	"github.com/alejandrodnm/cardbot/internal/ports"
)

const (
	defaultAppName           = "cardbot"
	defaultMaxBroadcasts     = 5
	defaultConfirmWindow     = 10500 * time.Millisecond
	defaultConfirmBlocks     = 2
	defaultMaxBlockWait      = 30 * time.Second
	defaultBroadcastDelay    = 200 * time.Millisecond
	defaultMinBroadcastDelay = 50 * time.Millisecond
	defaultSettleDelay       = 2 * time.Second
	defaultPollAttempts      = 10
	defaultPollInterval      = 3 * time.Second
	blockPollInterval        = 100 * time.Millisecond
	delayStep                = 10 * time.Millisecond
	priceSlack               = 0.0011 // margen sobre el total para evitar rechazos por redondeo
)

// Account es una cuenta compradora.
type Account struct {
	Name           string
	Currency       string // DEC o CREDITS
	MinimumBalance float64
	RCFrom         string
	RCAmountB      float64
}

// PurchaserConfig son los tiempos del protocolo de compra.
type PurchaserConfig struct {
	AppName           string
	MaxBroadcasts     int
	ConfirmWindow     time.Duration // desde el timestamp de la publicación
	ConfirmBlocks     int64
	MaxBlockWait      time.Duration
	BroadcastDelay    time.Duration // valor inicial, se adapta
	MinBroadcastDelay time.Duration
	SettleDelay       time.Duration
	PollAttempts      int
	PollInterval      time.Duration
}

func (c *PurchaserConfig) setDefaults() {
	if c.AppName == "" {
		c.AppName = defaultAppName
	}
	if c.MaxBroadcasts <= 0 {
		c.MaxBroadcasts = defaultMaxBroadcasts
	}
	if c.ConfirmWindow <= 0 {
		c.ConfirmWindow = defaultConfirmWindow
	}
	if c.ConfirmBlocks <= 0 {
		c.ConfirmBlocks = defaultConfirmBlocks
	}
	if c.MaxBlockWait <= 0 {
		c.MaxBlockWait = defaultMaxBlockWait
	}
	if c.BroadcastDelay <= 0 {
		c.BroadcastDelay = defaultBroadcastDelay
	}
	if c.MinBroadcastDelay <= 0 {
		c.MinBroadcastDelay = defaultMinBroadcastDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = defaultPollAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

// TradeRecorder registra una compra confirmada.
type TradeRecorder interface {
	RecordPurchase(ctx context.Context, account string, in domain.BuyIntent, tx domain.TxInfo, res domain.PurchaseResult) (domain.Trade, error)
}

// attempt sigue un uid que una o más cuentas intentan comprar a la vez.
type attempt struct {
	intent  domain.BuyIntent
	pending int
	settled bool
	done    map[string]bool // cuentas que ya cerraron su intento
}

// Purchaser compra los intents aceptados y compensa los que no se liquidan.
type Purchaser struct {
	book     *bidbook.Book
	chain    ports.Ledger
	market   ports.Marketplace
	trades   TradeRecorder
	rec      ports.Recorder
	cfg      PurchaserConfig
	accounts map[string]Account

	mu       sync.Mutex
	balances map[string]float64
	inflight map[string]*attempt // por uid
	delay    time.Duration

	now func() time.Time
}

// NewPurchaser crea el Purchaser. rec puede ser nil.
func NewPurchaser(book *bidbook.Book, chain ports.Ledger, market ports.Marketplace, trades TradeRecorder, rec ports.Recorder, accounts []Account, cfg PurchaserConfig) *Purchaser {
	cfg.setDefaults()
	if rec == nil {
		rec = ports.NopRecorder{}
	}
	accs := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		accs[a.Name] = a
	}
	return &Purchaser{
		book:     book,
		chain:    chain,
		market:   market,
		trades:   trades,
		rec:      rec,
		cfg:      cfg,
		accounts: accs,
		balances: make(map[string]float64),
		inflight: make(map[string]*attempt),
		delay:    cfg.BroadcastDelay,
		now:      time.Now,
	}
}

// Balance devuelve el saldo usable en USD de la cuenta.
func (p *Purchaser) Balance(account string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[account]
}

// SetBalance fija el saldo usable de la cuenta.
func (p *Purchaser) SetBalance(account string, usd float64) {
	p.mu.Lock()
	p.balances[account] = usd
	p.mu.Unlock()
}

// Delay devuelve la espera actual entre broadcasts.
func (p *Purchaser) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

// InFlight indica si algún intento sobre el uid sigue abierto.
func (p *Purchaser) InFlight(uid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[uid]
	return ok
}

// RefreshBalance recalcula el saldo usable en USD desde el mercado:
// DEC * precio del DEC, o CREDITS/1000, descontando el mínimo configurado.
func (p *Purchaser) RefreshBalance(ctx context.Context, account string) (float64, error) {
	acc, ok := p.accounts[account]
	if !ok {
		return 0, fmt.Errorf("trading.RefreshBalance: unknown account %q", account)
	}
	balances, err := p.market.Balances(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("trading.RefreshBalance: %w", err)
	}
	token := strings.ToUpper(acc.Currency)
	bal, found := lo.Find(balances, func(b domain.Balance) bool { return b.Token == token })
	if !found {
		return 0, fmt.Errorf("trading.RefreshBalance: %s has no %s balance", account, token)
	}
	usable := math.Max(bal.Balance-acc.MinimumBalance, 0)

	var usd float64
	if token == domain.CurrencyDEC {
		gs, err := p.market.Settings(ctx)
		if err != nil {
			return 0, fmt.Errorf("trading.RefreshBalance: settings: %w", err)
		}
		usd = usable * gs.DECPrice
	} else {
		usd = usable / 1000
	}
	usd = math.Max(domain.Round3(usd), 0)
	p.SetBalance(account, usd)
	return usd, nil
}

// Prepare filtra los intents que la cuenta puede pagar, descuenta el total del
// saldo y abre un intento en vuelo por cada uno.
func (p *Purchaser) Prepare(account string, intents []domain.BuyIntent) []domain.BuyIntent {
	p.mu.Lock()
	defer p.mu.Unlock()

	bal := p.balances[account]
	var accepted []domain.BuyIntent
	for _, in := range intents {
		if in.Price > bal {
			continue
		}
		bal -= in.Price
		accepted = append(accepted, in)

		a, ok := p.inflight[in.UID]
		if !ok {
			a = &attempt{intent: in, done: make(map[string]bool)}
			p.inflight[in.UID] = a
		}
		a.pending++
	}
	p.balances[account] = bal
	return accepted
}

// ReleaseUnattempted devuelve al libro la cantidad de los intents que ninguna cuenta intentó.
// Debe llamarse después de Prepare para todas las cuentas.
func (p *Purchaser) ReleaseUnattempted(intents []domain.BuyIntent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, in := range intents {
		if _, ok := p.inflight[in.UID]; ok {
			continue
		}
		p.book.Restore(in.BidIdx, in.CardDetailID, in.Copies())
		slog.Debug("trading: intent not affordable by any account", "uid", in.UID, "price", in.Price)
	}
}

// release compensa el intento de account sobre in. Idempotente por (cuenta, uid).
// La cantidad vuelve al libro cuando cierra el último intento y ninguno compró.
func (p *Purchaser) release(account string, in domain.BuyIntent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.inflight[in.UID]
	if !ok || a.done[account] {
		return
	}
	a.done[account] = true
	p.balances[account] += in.Price
	a.pending--
	if a.pending > 0 {
		return
	}
	delete(p.inflight, in.UID)
	if !a.settled {
		p.book.Restore(in.BidIdx, in.CardDetailID, in.Copies())
		slog.Debug("trading: quantity restored", "uid", in.UID, "bid_idx", in.BidIdx)
	}
}

// settle marca el uid como comprado por account.
func (p *Purchaser) settle(account string, in domain.BuyIntent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.inflight[in.UID]
	if !ok || a.done[account] {
		return
	}
	a.done[account] = true
	a.settled = true
	a.pending--
	if a.pending <= 0 {
		delete(p.inflight, in.UID)
	}
}

func (p *Purchaser) releaseAll(account string, intents []domain.BuyIntent) {
	for _, in := range intents {
		p.release(account, in)
	}
}

// Execute compra los intents aceptados para account: ráfaga de broadcasts,
// espera de bloques, consulta del resultado y conciliación.
func (p *Purchaser) Execute(ctx context.Context, account string, accepted []domain.BuyIntent, ev domain.ListingEvent) error {
	if len(accepted) == 0 {
		return nil
	}
	acc, ok := p.accounts[account]
	if !ok {
		p.releaseAll(account, accepted)
		return fmt.Errorf("trading.Execute: unknown account %q", account)
	}

	items := make([]string, len(accepted))
	total := 0.0
	for i, in := range accepted {
		items[i] = in.SellerTxID
		total += in.Price
	}
	order := purchaseOrder{
		Items:     items,
		Price:     total + priceSlack,
		Currency:  acc.Currency,
		AllOrNone: false,
		Market:    p.cfg.AppName,
		App:       p.cfg.AppName,
	}

	txIDs := p.broadcastBatch(ctx, account, order, ev.Timestamp)

	height, err := p.chain.BlockHeight(ctx)
	if err != nil {
		slog.Warn("trading: block height", "account", account, "err", err)
	} else if ev.Block+p.cfg.ConfirmBlocks >= height {
		if err := p.waitForBlock(ctx, ev.Block+p.cfg.ConfirmBlocks, height); err != nil {
			slog.Warn("trading: waiting for block", "account", account, "block", ev.Block, "err", err)
		}
		txIDs = append(txIDs, p.broadcastBatch(ctx, account, order, ev.Timestamp)...)
	}

	if err := engine.Sleep(ctx, p.cfg.SettleDelay); err != nil {
		p.releaseAll(account, accepted)
		return fmt.Errorf("trading.Execute: %w", err)
	}

	results := p.poll(ctx, txIDs)
	bought, compensated := p.reconcile(ctx, account, accepted, results)
	p.rec.PurchaseResult(account, bought, compensated)

	if ctx.Err() != nil {
		return fmt.Errorf("trading.Execute: %w", ctx.Err())
	}
	return nil
}

type purchaseOrder struct {
	Items     []string `json:"items"`
	Price     float64  `json:"price"`
	Currency  string   `json:"currency"`
	AllOrNone bool     `json:"all_or_none"`
	Market    string   `json:"market"`
	App       string   `json:"app"`
	N         string   `json:"n"`
}

// broadcastBatch envía la compra hasta MaxBroadcasts veces, esperando el delay
// actual entre cada una, y corta al pasar la ventana de confirmación.
func (p *Purchaser) broadcastBatch(ctx context.Context, account string, order purchaseOrder, listedAt time.Time) []string {
	var ids []string
	for i := 0; i < p.cfg.MaxBroadcasts; i++ {
		order.N = engine.Nonce(10)
		op, err := domain.NewActiveOp(account, domain.OpMarketPurchase, order)
		if err != nil {
			slog.Warn("trading: purchase op", "account", account, "err", err)
			return ids
		}
		txID, err := p.chain.Broadcast(ctx, op)
		if err != nil {
			slog.Warn("trading: purchase broadcast failed", "account", account, "attempt", i, "err", err)
		} else {
			ids = append(ids, txID)
		}

		if !listedAt.IsZero() && p.now().Sub(listedAt) > p.cfg.ConfirmWindow {
			break
		}
		if err := engine.Sleep(ctx, p.Delay()); err != nil {
			break
		}
	}
	return ids
}

// waitForBlock sondea la altura cada 100ms hasta llegar a target, como mucho MaxBlockWait.
func (p *Purchaser) waitForBlock(ctx context.Context, target, height int64) error {
	deadline := p.now().Add(p.cfg.MaxBlockWait)
	for height < target {
		if p.now().After(deadline) {
			return fmt.Errorf("block %d not reached (at %d)", target, height)
		}
		if err := engine.Sleep(ctx, blockPollInterval); err != nil {
			return err
		}
		h, err := p.chain.BlockHeight(ctx)
		if err != nil {
			continue
		}
		height = h
	}
	return nil
}

// poll resuelve cada tx en el mercado, hasta PollAttempts veces por tx.
func (p *Purchaser) poll(ctx context.Context, txIDs []string) []domain.TxInfo {
	var out []domain.TxInfo
	for _, id := range txIDs {
		for i := 0; i < p.cfg.PollAttempts; i++ {
			info, found, err := p.market.LookupTransaction(ctx, id)
			if err != nil {
				slog.Debug("trading: tx lookup", "tx", id, "err", err)
			}
			if found {
				out = append(out, info)
				break
			}
			if err := engine.Sleep(ctx, p.cfg.PollInterval); err != nil {
				return out
			}
		}
	}
	return out
}

// reconcile liquida los intents contra el primer resultado exitoso y compensa el resto.
func (p *Purchaser) reconcile(ctx context.Context, account string, accepted []domain.BuyIntent, results []domain.TxInfo) (bought, compensated int) {
	var success *domain.TxInfo
	for i := range results {
		if results[i].Success {
			success = &results[i]
			break
		}
	}

	if success == nil {
		p.releaseAll(account, accepted)
		p.adaptDelay(results)
		for _, r := range results {
			slog.Info("trading: purchase failed", "account", account, "tx", r.ID, "block", r.BlockNum, "err", r.Error)
		}
		return 0, len(accepted)
	}

	res, err := success.ParseResult()
	if err != nil {
		slog.Warn("trading: purchase result unreadable", "account", account, "tx", success.ID, "err", err)
		p.releaseAll(account, accepted)
		return 0, len(accepted)
	}
	items := make(map[string]bool, len(res.Items()))
	for _, it := range res.Items() {
		items[it] = true
	}

	for _, in := range accepted {
		if !items[in.SellerTxID] {
			p.release(account, in)
			compensated++
			continue
		}
		p.settle(account, in)
		bought++
		slog.Info("trading: bought card",
			"account", account, "uid", in.UID, "card", in.CardName, "price", in.Price, "tx", success.ID)
		if p.trades == nil {
			continue
		}
		if _, err := p.trades.RecordPurchase(ctx, account, in, *success, res); err != nil {
			slog.Warn("trading: trade record failed", "account", account, "uid", in.UID, "err", err)
		}
	}

	if _, err := p.RefreshBalance(ctx, account); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("trading: balance refresh", "account", account, "err", err)
	}
	return bought, compensated
}

// adaptDelay ajusta la espera entre broadcasts según cuántas compras llegaron
// fuera de la ventana de 3 bloques.
func (p *Purchaser) adaptDelay(results []domain.TxInfo) {
	late := lo.CountBy(results, func(r domain.TxInfo) bool { return r.ThreeBlockError() })

	p.mu.Lock()
	switch {
	case late == p.cfg.MaxBroadcasts:
		p.delay += delayStep
	case late > 0 && late < 4:
		p.delay -= delayStep
	}
	if p.delay < p.cfg.MinBroadcastDelay {
		p.delay = p.cfg.MinBroadcastDelay
	}
	d := p.delay
	p.mu.Unlock()

	if late > 0 {
		slog.Debug("trading: broadcast delay", "late", late, "delay", d)
	}
	p.rec.BroadcastDelay(int(d / time.Millisecond))
}
