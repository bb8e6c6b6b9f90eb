package trading

import (
	"strconv"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

const maxBulkListings = 10

// IsBulk detecta publicaciones masivas: cuando un sm_sell_cards trae más
// listings que min(maxQuantity, 10) y alguna carta (por foil e id) aparece
// más veces que ese límite, la operación entera se ignora.
func IsBulk(listings []domain.SellListing, maxQuantity int) bool {
	limit := min(maxQuantity, maxBulkListings)
	if len(listings) <= limit {
		return false
	}
	counts := make(map[string]int)
	for _, l := range listings {
		id, gold, err := domain.ParseUID(l.UID())
		if err != nil {
			continue
		}
		key := "C" + strconv.Itoa(id)
		if gold {
			key = "G" + strconv.Itoa(id)
		}
		counts[key]++
		if counts[key] > limit {
			return true
		}
	}
	return false
}
