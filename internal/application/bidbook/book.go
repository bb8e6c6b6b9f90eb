// Package bidbook expande las órdenes de compra configuradas en un libro
// de líneas por carta y es el único dueño de sus contadores.
package bidbook

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

// Entry es una línea del libro con su techo de precio, para reportes.
type Entry struct {
	BidIdx     int
	BidID      int
	CardID     int
	Line       domain.BidLine
	Ceiling    domain.PriceCeiling
	HasCeiling bool
}

// Book guarda los bids expandidos. Todas las lecturas devuelven copias.
type Book struct {
	mu       sync.Mutex
	bids     []domain.Bid
	ceilings []map[int]domain.PriceCeiling
	wanted   map[int]struct{}
}

// New crea un libro vacío.
func New() *Book {
	return &Book{wanted: make(map[int]struct{})}
}

// Expand reemplaza el contenido del libro con los bids dados expandidos contra
// el catálogo. Devuelve los card_detail_id buscados, sin repetidos y ordenados.
func (b *Book) Expand(bids []domain.Bid, catalog domain.Catalog) []int {
	sorted := make([]domain.Bid, 0, len(bids))
	for _, raw := range bids {
		sorted = append(sorted, domain.WithBidDefaults(raw))
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	details := lo.Values(map[int]domain.CardDetail(catalog))
	sort.Slice(details, func(i, j int) bool { return details[i].ID < details[j].ID })

	var kept []domain.Bid
	var ids []int
	for _, bid := range sorted {
		if err := bid.Validate(); err != nil {
			slog.Warn("bidbook: dropping invalid bid", "bid", bid.ID, "err", err)
			continue
		}
		for _, d := range details {
			if !matchesFilters(bid, d) {
				continue
			}
			if _, ok := bid.Cards[d.ID]; ok {
				continue // la línea del usuario manda
			}
			bid.Cards[d.ID] = domain.BidLine{}
		}
		for id, line := range bid.Cards {
			bid.Cards[id] = normalizeLine(bid, line)
			ids = append(ids, id)
		}
		kept = append(kept, bid)
	}

	ids = lo.Uniq(ids)
	slices.Sort(ids)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = kept
	b.ceilings = make([]map[int]domain.PriceCeiling, len(kept))
	for i := range b.ceilings {
		b.ceilings[i] = make(map[int]domain.PriceCeiling)
	}
	b.wanted = make(map[int]struct{}, len(ids))
	for _, id := range ids {
		b.wanted[id] = struct{}{}
	}
	return ids
}

// matchesFilters aplica los filtros de rareza, elemento, tipo y edición.
// Un filtro vacío no deja pasar ninguna carta: un bid sin ediciones, rarezas,
// elementos o tipos no genera líneas desde el catálogo.
func matchesFilters(bid domain.Bid, d domain.CardDetail) bool {
	if !slices.Contains(bid.Rarities, domain.RarityName(d.Rarity)) {
		return false
	}
	if !slices.Contains(bid.Elements, domain.ColorToSplinter(d.Color)) {
		return false
	}
	if !slices.ContainsFunc(bid.Types, func(t string) bool { return strings.EqualFold(t, d.Type) }) {
		return false
	}
	eds := d.EditionList()
	if len(eds) > 2 {
		eds = eds[:2]
	}
	inEdition := lo.SomeBy(eds, func(e int) bool {
		name := domain.EditionName(e)
		return name != "" && slices.Contains(bid.Editions, name)
	})
	if !inEdition {
		return false
	}
	if bid.OnlyModern && d.ID < domain.ModernCardCutoff {
		return false
	}
	return true
}

func normalizeLine(bid domain.Bid, l domain.BidLine) domain.BidLine {
	if l.MaxQuantity <= 0 {
		l.MaxQuantity = bid.MaxQuantity
	}
	if l.MaxBCX <= 0 {
		l.MaxBCX = bid.MaxBCX
	}
	if l.MaxBCXPrice <= 0 {
		l.MaxBCXPrice = bid.MaxBCXPrice
	}
	if l.MaxBCX > l.MaxQuantity {
		l.MaxQuantity = l.MaxBCX
	}
	l.Quantity = l.MaxQuantity
	l.BCX = l.MaxBCX
	return l
}

// Len devuelve cuántos bids válidos hay en el libro.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bids)
}

// Bids devuelve copias de todos los bids en orden de prioridad.
func (b *Book) Bids() []domain.Bid {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Bid, len(b.bids))
	for i, bid := range b.bids {
		out[i] = domain.WithBidDefaults(bid)
	}
	return out
}

// Wants indica si algún bid busca la carta.
func (b *Book) Wants(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.wanted[id]
	return ok
}

// MaxQuantity devuelve el mayor max_quantity del libro, de bid o de línea.
func (b *Book) MaxQuantity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lo.Max(lo.FlatMap(b.bids, func(bid domain.Bid, _ int) []int {
		qs := lo.MapToSlice(bid.Cards, func(_ int, l domain.BidLine) int { return l.MaxQuantity })
		return append(qs, bid.MaxQuantity)
	}))
}

// LineView es lo que el matcher necesita de una línea, leído bajo un solo lock.
type LineView struct {
	Bid        domain.Bid // cabecera del bid, sin Cards
	Line       domain.BidLine
	Ceiling    domain.PriceCeiling
	HasCeiling bool
}

// View devuelve la línea id del bid idx con su techo. false si no existe.
func (b *Book) View(idx, id int) (LineView, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.bids) {
		return LineView{}, false
	}
	l, ok := b.bids[idx].Cards[id]
	if !ok {
		return LineView{}, false
	}
	head := b.bids[idx]
	head.Cards = nil
	c, has := b.ceilings[idx][id]
	return LineView{Bid: head, Line: l, Ceiling: c, HasCeiling: has}, true
}

// SetCeiling guarda el techo de precio de una línea existente.
func (b *Book) SetCeiling(idx, id int, c domain.PriceCeiling) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.bids) {
		return
	}
	if _, ok := b.bids[idx].Cards[id]; !ok {
		return
	}
	b.ceilings[idx][id] = c
}

// DropLine elimina la línea y su techo. El bid deja de comprar esa carta
// hasta el próximo Expand.
func (b *Book) DropLine(idx, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.bids) {
		return
	}
	delete(b.bids[idx].Cards, id)
	delete(b.ceilings[idx], id)
}

// Reserve descuenta n unidades de la línea, y del presupuesto de copias si
// la línea lo controla. Devuelve false sin tocar nada si no alcanza.
func (b *Book) Reserve(idx, id, n int) bool {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.bids) {
		return false
	}
	l, ok := b.bids[idx].Cards[id]
	if !ok || l.Quantity < n {
		return false
	}
	if l.MaxBCX > 0 && l.BCX < n {
		return false
	}
	l.Quantity -= n
	if l.MaxBCX > 0 {
		l.BCX -= n
	}
	b.bids[idx].Cards[id] = l
	return true
}

// Restore devuelve n unidades reservadas. Nunca supera los máximos de la línea.
func (b *Book) Restore(idx, id, n int) {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.bids) {
		return
	}
	l, ok := b.bids[idx].Cards[id]
	if !ok {
		return
	}
	l.Quantity = min(l.Quantity+n, l.MaxQuantity)
	if l.MaxBCX > 0 {
		l.BCX = min(l.BCX+n, l.MaxBCX)
	}
	b.bids[idx].Cards[id] = l
}

// Snapshot devuelve todas las líneas ordenadas por bid y carta.
func (b *Book) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Entry
	for idx, bid := range b.bids {
		ids := lo.Keys(bid.Cards)
		slices.Sort(ids)
		for _, id := range ids {
			c, ok := b.ceilings[idx][id]
			out = append(out, Entry{
				BidIdx:     idx,
				BidID:      bid.ID,
				CardID:     id,
				Line:       bid.Cards[id],
				Ceiling:    c,
				HasCeiling: ok,
			})
		}
	}
	return out
}
