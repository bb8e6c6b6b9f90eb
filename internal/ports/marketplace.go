package ports

import (
	"context"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

// Marketplace es la API pública del juego y de los bids de referencia.
type Marketplace interface {
	// Prices devuelve el precio mínimo agrupado por carta y foil.
	Prices(ctx context.Context) ([]domain.MarketPrice, error)
	// ReferenceBids devuelve los mejores bids externos por carta.
	ReferenceBids(ctx context.Context) ([]domain.ReferenceBid, error)
	// CardListings devuelve las publicaciones de una carta ordenadas por precio ascendente.
	CardListings(ctx context.Context, cardDetailID int, gold bool) ([]domain.CardListing, error)

	FindCards(ctx context.Context, uids []string) ([]domain.CardInstance, error)
	SaleHistory(ctx context.Context, uid string) ([]domain.SaleRecord, error)

	// LookupTransaction resuelve una transacción del mercado. found=false mientras
	// el mercado todavía no la procesó.
	LookupTransaction(ctx context.Context, txID string) (info domain.TxInfo, found bool, err error)

	Balances(ctx context.Context, account string) ([]domain.Balance, error)
	Settings(ctx context.Context) (domain.GameSettings, error)
	CardDetails(ctx context.Context) (domain.Catalog, error)
}
