package ports

import (
	"context"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

// Reporter presenta el estado del inventario y de cada ciclo.
type Reporter interface {
	ReportInventory(ctx context.Context, rows []domain.InventoryRow) error
	ReportCycle(ctx context.Context, s domain.CycleSummary) error
}

// Recorder recibe los eventos que se exportan como métricas.
type Recorder interface {
	ListingMatched(bidID int)
	ListingRejected(reason string)
	PurchaseResult(account string, bought, compensated int)
	BroadcastDelay(ms int)
	Balance(account string, usd float64)
	TradeClosed(status domain.TradeStatus, profitUSD float64)
}

// NopRecorder descarta todo. Útil en tests y cuando las métricas están apagadas.
type NopRecorder struct{}

func (NopRecorder) ListingMatched(int)                      {}
func (NopRecorder) ListingRejected(string)                  {}
func (NopRecorder) PurchaseResult(string, int, int)         {}
func (NopRecorder) BroadcastDelay(int)                      {}
func (NopRecorder) Balance(string, float64)                 {}
func (NopRecorder) TradeClosed(domain.TradeStatus, float64) {}
