package ports

import (
	"context"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

// Ledger es la blockchain donde viven las cartas: firma, broadcast y stream de operaciones.
type Ledger interface {
	// Broadcast firma el custom_json con la key que corresponda al signer
	// (active o posting) y devuelve el id de la transacción.
	Broadcast(ctx context.Context, op domain.CustomJSON) (string, error)

	// BlockHeight devuelve el último bloque producido.
	BlockHeight(ctx context.Context) (int64, error)

	// Stream emite las operaciones a partir del bloque from (0 = cabeza actual).
	// Ambos canales se cierran cuando ctx se cancela.
	Stream(ctx context.Context, from int64) (<-chan domain.OperationEvent, <-chan error)

	// RCMana devuelve el mana de resource credits de la cuenta, en miles de millones.
	RCMana(ctx context.Context, account string) (float64, error)
}
