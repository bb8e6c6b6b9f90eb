// Package oracle recalcula los techos de precio de compra a partir de los
// precios del mercado y de los bids de referencia.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/cardbot/internal/application/bidbook"
	"github.com/alejandrodnm/cardbot/internal/domain"
	"github.com/alejandrodnm/cardbot/internal/ports"
)

// ErrNoMarketData indica que no hubo precios o bids de referencia; los techos no se tocan.
var ErrNoMarketData = errors.New("no market data")

const (
	defaultMinProfit = 0.01
	maxRefPremium    = 0.2  // como mucho 20% sobre el bid de referencia
	minCeiling       = 0.01 // por debajo la línea se descarta
)

// Sync escribe en el libro el techo de precio de cada línea.
type Sync struct {
	market    ports.Marketplace
	book      *bidbook.Book
	minProfit float64
}

// New crea un Sync. minProfit <= 0 usa 0.01 USD.
func New(market ports.Marketplace, book *bidbook.Book, minProfit float64) *Sync {
	if minProfit <= 0 {
		minProfit = defaultMinProfit
	}
	return &Sync{market: market, book: book, minProfit: minProfit}
}

// Refresh baja precios y bids de referencia en paralelo y actualiza los techos.
// Devuelve las filas de precio para que el ciclo las reutilice.
func (s *Sync) Refresh(ctx context.Context) ([]domain.MarketPrice, error) {
	var (
		prices []domain.MarketPrice
		refs   []domain.ReferenceBid
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.market.Prices(gctx)
		if err != nil {
			return fmt.Errorf("prices: %w", err)
		}
		prices = p
		return nil
	})
	g.Go(func() error {
		r, err := s.market.ReferenceBids(gctx)
		if err != nil {
			return fmt.Errorf("reference bids: %w", err)
		}
		refs = r
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Warn("oracle: market data fetch failed", "err", err)
		return nil, fmt.Errorf("oracle.Refresh: %w: %w", ErrNoMarketData, err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("oracle.Refresh: %w: empty price list", ErrNoMarketData)
	}

	refIdx := make(map[refKey]float64, len(refs))
	for _, r := range refs {
		k := refKey{r.CardDetailID, r.Gold}
		if _, ok := refIdx[k]; !ok {
			refIdx[k] = r.USDPrice
		}
	}

	for idx, bid := range s.book.Bids() {
		if bid.AutoSetBuyPrice {
			s.autoPrice(idx, bid, prices, refIdx)
		} else {
			s.fixedPrice(idx, bid, prices, refIdx)
		}
	}
	return prices, nil
}

type refKey struct {
	id   int
	gold bool
}

func (s *Sync) fixedPrice(idx int, bid domain.Bid, prices []domain.MarketPrice, refs map[refKey]float64) {
	for id, line := range bid.Cards {
		c := domain.PriceCeiling{
			BuyPrice: line.MaxBCXPrice,
			RefBid:   refs[refKey{id, bid.GoldOnly}],
		}
		if row, ok := domain.FindMarketPrice(prices, id, bid.GoldOnly); ok {
			c.LowPrice = row.LowPrice
			c.LowPriceBCX = row.LowPriceBCX
		}
		s.book.SetCeiling(idx, id, c)
	}
}

func (s *Sync) autoPrice(idx int, bid domain.Bid, prices []domain.MarketPrice, refs map[refKey]float64) {
	for _, row := range prices {
		if row.Gold != bid.GoldOnly {
			continue
		}
		line, ok := bid.Cards[row.CardDetailID]
		if !ok || row.LowPrice <= 0 {
			continue
		}
		ref := refs[refKey{row.CardDetailID, bid.GoldOnly}]
		candidate := AutoCeiling(row.LowPrice, ref, bid.BuyPctBelowMarket, line.MaxBCXPrice, s.minProfit)
		if candidate < minCeiling {
			slog.Debug("oracle: dropping line without margin",
				"bid", bid.ID, "card", row.CardDetailID, "low", row.LowPrice, "ref", ref)
			s.book.DropLine(idx, row.CardDetailID)
			continue
		}
		s.book.SetCeiling(idx, row.CardDetailID, domain.PriceCeiling{
			BuyPrice:    candidate,
			LowPrice:    row.LowPrice,
			LowPriceBCX: row.LowPriceBCX,
			RefBid:      ref,
		})
	}
}

// AutoCeiling calcula el precio máximo de compra de una carta con precio
// automático. El resultado se queda hasta 20% sobre el bid de referencia,
// pct% bajo el mínimo del mercado y deja al menos minProfit al revender.
func AutoCeiling(low, ref, belowPct, lineMax, minProfit float64) float64 {
	diff := math.Min(1-ref/low, maxRefPremium)
	limit := math.Inf(1)
	if lineMax > 0 {
		limit = lineMax
	}
	candidate := math.Min(math.Min(ref*(1+diff), low*(1-belowPct/100)), limit)

	resale := math.Max(low*0.98, low-0.1)
	profit := resale*domain.SellNetRate - candidate*domain.BuyCostRate
	if profit < minProfit {
		candidate -= minProfit - profit
	}
	return candidate
}
