package inventory

import (
	"sync"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

// SellBatch acumula las publicaciones de venta de un ciclo, agrupadas por cuenta.
type SellBatch struct {
	mu     sync.Mutex
	orders map[string][]domain.SellOrder
}

// NewSellBatch crea un batch vacío.
func NewSellBatch() *SellBatch {
	return &SellBatch{orders: make(map[string][]domain.SellOrder)}
}

// Add encola una orden para la cuenta.
func (b *SellBatch) Add(account string, o domain.SellOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[account] = append(b.orders[account], o)
}

// Drain devuelve todo lo encolado y deja el batch vacío.
func (b *SellBatch) Drain() map[string][]domain.SellOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.orders
	b.orders = make(map[string][]domain.SellOrder)
	return out
}

// Len devuelve el número de órdenes pendientes.
func (b *SellBatch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.orders {
		n += len(o)
	}
	return n
}
