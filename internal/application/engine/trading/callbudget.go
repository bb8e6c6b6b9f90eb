package trading

import (
	"context"
	"sync/atomic"
	"time"
)

const defaultCallsPerMinute = 50

// CallBudget limita las consultas caras a la API (cards/find) por ventana.
// Un ticker pone el contador a cero; no es un token bucket.
type CallBudget struct {
	limit int64
	used  atomic.Int64
}

// NewCallBudget crea un presupuesto de limit llamadas por ventana. limit <= 0 usa 50.
func NewCallBudget(limit int) *CallBudget {
	if limit <= 0 {
		limit = defaultCallsPerMinute
	}
	return &CallBudget{limit: int64(limit)}
}

// Take consume una llamada. false si la ventana está agotada.
func (b *CallBudget) Take() bool {
	if b.used.Add(1) > b.limit {
		b.used.Add(-1)
		return false
	}
	return true
}

// Remaining devuelve las llamadas que quedan en la ventana actual.
func (b *CallBudget) Remaining() int {
	return int(max(b.limit-b.used.Load(), 0))
}

// Reset vacía el contador.
func (b *CallBudget) Reset() { b.used.Store(0) }

// Start resetea el contador cada interval hasta que ctx se cancele.
func (b *CallBudget) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.Reset()
			}
		}
	}()
}
