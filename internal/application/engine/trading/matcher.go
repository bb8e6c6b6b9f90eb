// Package trading reacciona a las publicaciones del mercado: decide qué
// comprar contra el libro de bids, compra, compensa y corre el ciclo periódico.
package trading

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/alejandrodnm/cardbot/internal/application/bidbook"
	"github.com/alejandrodnm/cardbot/internal/domain"
	"github.com/alejandrodnm/cardbot/internal/ports"
)

const (
	defaultMinProfitUSD = 0.01
	fetchAboveLowMult   = 1.5 // por encima de low*1.5 puede ser una carta con varias copias
	burnValueMargin     = 0.95
)

// Motivos de rechazo exportados como label de métricas.
const (
	rejectPrice     = "price"
	rejectUID       = "uid"
	rejectNotWanted = "not_wanted"
	rejectNoBid     = "no_bid"
)

// Matcher evalúa una publicación contra el libro, en orden de prioridad.
type Matcher struct {
	book      *bidbook.Book
	market    ports.Marketplace
	budget    *CallBudget
	rec       ports.Recorder
	minProfit float64

	mu      sync.RWMutex
	catalog domain.Catalog
}

// NewMatcher crea un Matcher. minProfit <= 0 usa 0.01 USD; rec puede ser nil.
func NewMatcher(book *bidbook.Book, market ports.Marketplace, catalog domain.Catalog, budget *CallBudget, rec ports.Recorder, minProfit float64) *Matcher {
	if minProfit <= 0 {
		minProfit = defaultMinProfitUSD
	}
	if budget == nil {
		budget = NewCallBudget(0)
	}
	if rec == nil {
		rec = ports.NopRecorder{}
	}
	return &Matcher{
		book:      book,
		market:    market,
		budget:    budget,
		rec:       rec,
		minProfit: minProfit,
		catalog:   catalog,
	}
}

// SetCatalog reemplaza el catálogo de cartas.
func (m *Matcher) SetCatalog(c domain.Catalog) {
	m.mu.Lock()
	m.catalog = c
	m.mu.Unlock()
}

func (m *Matcher) detail(id int) (domain.CardDetail, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.catalog[id]
	return d, ok
}

// Evaluate decide si comprar la publicación. Si la acepta reserva la cantidad
// en el libro y devuelve el intent; correlationID pasa a ser su SellerTxID.
func (m *Matcher) Evaluate(ctx context.Context, listing domain.SellListing, correlationID string) (*domain.BuyIntent, bool) {
	price := listing.Price.Float()
	if math.IsNaN(price) || price <= 0 || price < m.minProfit {
		m.rec.ListingRejected(rejectPrice)
		return nil, false
	}
	uid := listing.UID()
	id, gold, err := domain.ParseUID(uid)
	if err != nil {
		m.rec.ListingRejected(rejectUID)
		return nil, false
	}
	if !m.book.Wants(id) {
		m.rec.ListingRejected(rejectNotWanted)
		return nil, false
	}

	card := domain.CardInstance{UID: uid, CardDetailID: id, XP: 1, Gold: gold}
	fetched := false
	detail, _ := m.detail(id)

	for idx, n := 0, m.book.Len(); idx < n; idx++ {
		v, ok := m.book.View(idx, id)
		if !ok || v.Line.Quantity <= 0 || v.Bid.GoldOnly != gold || !v.HasCeiling {
			continue
		}

		bcx, cp := 0.0, 0.0
		if v.Bid.NeedsCopyCheck(v.Line) {
			gs, err := m.market.Settings(ctx)
			if err != nil {
				slog.Warn("trading: settings unavailable", "err", err)
				continue
			}
			bcx = 1
			if price > v.Ceiling.LowPrice*fetchAboveLowMult {
				if !fetched {
					full, err := m.fetchCard(ctx, uid)
					if err != nil {
						slog.Debug("trading: card lookup skipped", "uid", uid, "err", err)
						continue
					}
					card, fetched = full, true
				}
				if bcx, err = domain.CalcBCX(card, detail, gs); err != nil {
					slog.Warn("trading: bcx", "uid", uid, "err", err)
					continue
				}
			}
			if !m.copiesOK(v, price, bcx) {
				continue
			}
			if cp, err = domain.CalcCP(card, bcx, detail, gs); err != nil {
				slog.Warn("trading: collection power", "uid", uid, "err", err)
				continue
			}
			if v.Bid.MinCPPerUSD > 0 && cp/price < v.Bid.MinCPPerUSD {
				continue
			}
			if v.Bid.BelowBurnValue && (gs.DECPrice <= 0 || price/gs.DECPrice > cp*burnValueMargin) {
				continue
			}
		}

		if v.Ceiling.BuyPrice > 0 && price > v.Ceiling.BuyPrice*math.Max(bcx, 1) {
			continue
		}

		intent := domain.BuyIntent{
			SellerTxID:     correlationID,
			BidIdx:         idx,
			BidDesc:        v.Bid.Comment,
			SellForPctMore: v.Bid.SellForPctMore,
			UID:            uid,
			CardDetailID:   id,
			CardName:       detail.Name,
			Gold:           gold,
			BCX:            math.Max(bcx, 1),
			CP:             cp,
			Price:          price,
			FeePct:         listing.FeePct,
			Ceiling:        v.Ceiling,
		}
		if intent.FeePct <= 0 {
			intent.FeePct = domain.DefaultListingFeePct
		}
		// otra publicación pudo consumir la línea entre View y Reserve
		if !m.book.Reserve(idx, id, intent.Copies()) {
			continue
		}
		m.rec.ListingMatched(v.Bid.ID)
		slog.Info("trading: listing matched",
			"uid", uid, "card", detail.Name, "price", price, "bid", v.Bid.ID, "bcx", intent.BCX)
		return &intent, true
	}

	m.rec.ListingRejected(rejectNoBid)
	return nil, false
}

// copiesOK aplica los límites por copias: precio contra low*bcx y presupuesto de bcx.
func (m *Matcher) copiesOK(v bidbook.LineView, price, bcx float64) bool {
	if price > v.Ceiling.LowPrice*bcx {
		return false
	}
	if v.Line.MaxBCX > 0 && bcx > float64(min(v.Line.Quantity, v.Line.BCX)) {
		return false
	}
	return true
}

// fetchCard trae la carta completa gastando una llamada del presupuesto.
func (m *Matcher) fetchCard(ctx context.Context, uid string) (domain.CardInstance, error) {
	if !m.budget.Take() {
		return domain.CardInstance{}, fmt.Errorf("call budget exhausted")
	}
	cards, err := m.market.FindCards(ctx, []string{uid})
	if err != nil {
		return domain.CardInstance{}, fmt.Errorf("trading.fetchCard: %w", err)
	}
	if len(cards) == 0 {
		return domain.CardInstance{}, fmt.Errorf("trading.fetchCard: %s not found", uid)
	}
	return cards[0], nil
}
