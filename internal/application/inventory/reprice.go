package inventory

import (
	"context"
	"fmt"
	"math"

	"github.com/alejandrodnm/cardbot/internal/domain"
	"github.com/alejandrodnm/cardbot/internal/ports"
)

const (
	undercut = 0.001
	gapPct   = 0.08 // salto mínimo entre publicaciones para colocarse justo debajo
	goldDiv  = 2.5
)

// RepriceResult describe un cambio de precio ya enviado.
type RepriceResult struct {
	TxID     string
	OldPrice float64
	NewPrice float64
}

// Repricer baja el precio de cartas propias que perdieron posición en el mercado.
type Repricer struct {
	market  ports.Marketplace
	chain   ports.Ledger
	tracked map[string]bool
}

// NewRepricer crea un Repricer. Las publicaciones de accounts no cuentan como competencia.
func NewRepricer(market ports.Marketplace, chain ports.Ledger, accounts []string) *Repricer {
	tracked := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		tracked[a] = true
	}
	return &Repricer{market: market, chain: chain, tracked: tracked}
}

// Reprice calcula el nuevo precio de la carta y lo publica.
// Devuelve nil sin error cuando no hay que tocar nada.
func (r *Repricer) Reprice(ctx context.Context, t domain.Trade, live domain.CardInstance) (*RepriceResult, error) {
	listings, err := r.market.CardListings(ctx, live.CardDetailID, live.Gold)
	if err != nil {
		return nil, fmt.Errorf("inventory.Reprice: listings for %d: %w", live.CardDetailID, err)
	}

	newPrice, own, ok := NextPrice(listings, live.UID, r.isTracked, live.Details.Rarity, live.Gold, t.BreakEvenPrice())
	if !ok {
		return nil, nil
	}

	op, err := domain.NewActiveOp(t.Account, domain.OpUpdatePrice, map[string]any{
		"ids":            []string{own.MarketID},
		"new_price":      newPrice,
		"list_fee":       1,
		"list_fee_token": "DEC",
	})
	if err != nil {
		return nil, fmt.Errorf("inventory.Reprice: %w", err)
	}
	txID, err := r.chain.Broadcast(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("inventory.Reprice: broadcast %s: %w", t.UID, err)
	}
	return &RepriceResult{TxID: txID, OldPrice: own.BuyPrice, NewPrice: newPrice}, nil
}

func (r *Repricer) isTracked(seller string) bool { return r.tracked[seller] }

// NextPrice decide el nuevo precio de la publicación uid dentro de listings
// (ordenadas por precio ascendente). Solo actúa cuando la carta quedó fuera
// de las primeras posiciones para su rareza, y nunca baja del break-even.
func NextPrice(listings []domain.CardListing, uid string, tracked func(string) bool, rarity int, gold bool, breakEven float64) (float64, domain.CardListing, bool) {
	pos := -1
	for i, l := range listings {
		if l.UID == uid {
			pos = i
			break
		}
	}
	if pos < 0 {
		return 0, domain.CardListing{}, false
	}

	ranked := make([]domain.CardListing, 0, pos+1)
	for _, l := range listings[:pos] {
		if tracked == nil || !tracked(l.Seller) {
			ranked = append(ranked, l)
		}
	}
	ranked = append(ranked, listings[pos])
	pos = len(ranked) - 1
	own := ranked[pos]

	maxPos := float64(-3*rarity + 16) // 13 | 10 | 7 | 4
	if gold {
		maxPos /= goldDiv
	}
	if pos == 0 || float64(pos+1) < maxPos {
		return 0, own, false
	}

	candidate := math.Max(ranked[0].BuyPrice-undercut, breakEven)
	for i := 1; float64(i) < math.Min(float64(pos), maxPos); i++ {
		prev, cur := ranked[i-1].BuyPrice, ranked[i].BuyPrice
		if cur <= candidate {
			maxPos++
			continue
		}
		if candidate == breakEven {
			candidate = cur - undercut
		}
		if (cur-prev)/cur < gapPct {
			continue
		}
		candidate = cur - undercut
		break
	}

	candidate = domain.Round3(candidate)
	if candidate >= own.BuyPrice || candidate <= breakEven {
		return 0, own, false
	}
	return candidate, own, true
}
