package ports

import (
	"context"
	"errors"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

// ErrNotFound se devuelve cuando el documento pedido no existe.
var ErrNotFound = errors.New("not found")

// TradeStore persiste los trades y el documento singleton de totales.
type TradeStore interface {
	InsertTrade(ctx context.Context, t domain.Trade) error
	UpdateTrade(ctx context.Context, t domain.Trade) error

	// FindTradeByUID devuelve el trade más reciente de la carta, o ErrNotFound.
	FindTradeByUID(ctx context.Context, uid string) (domain.Trade, error)

	// FindActiveTrades pagina los trades en estado Active ordenados por fecha de creación.
	// limit <= 0 significa sin límite.
	FindActiveTrades(ctx context.Context, skip, limit int) ([]domain.Trade, error)
	FindFinishedTrades(ctx context.Context) ([]domain.Trade, error)

	// LoadTotals devuelve el documento TOTAL, o uno vacío si todavía no existe.
	LoadTotals(ctx context.Context) (domain.Totals, error)
	// SaveTotals hace upsert por _id = "TOTAL".
	SaveTotals(ctx context.Context, t domain.Totals) error

	Close() error
}
