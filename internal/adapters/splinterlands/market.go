package splinterlands

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

const (
	settingsKey = "settings"
	catalogKey  = "catalog"
)

// Prices devuelve market/for_sale_grouped.
func (c *Client) Prices(ctx context.Context) ([]domain.MarketPrice, error) {
	var out []domain.MarketPrice
	if err := c.get(ctx, c.apiLimiter, c.apiBase+"/market/for_sale_grouped", &out); err != nil {
		return nil, fmt.Errorf("splinterlands.Prices: %w", err)
	}
	return out, nil
}

// ReferenceBids devuelve los mejores bids de peakmonsters.
func (c *Client) ReferenceBids(ctx context.Context) ([]domain.ReferenceBid, error) {
	var resp struct {
		Bids []domain.ReferenceBid `json:"bids"`
	}
	if err := c.get(ctx, c.bidsLimiter, c.bidsBase+"/api/bids/top", &resp); err != nil {
		return nil, fmt.Errorf("splinterlands.ReferenceBids: %w", err)
	}
	return resp.Bids, nil
}

// CardListings devuelve market/for_sale_by_card.
func (c *Client) CardListings(ctx context.Context, cardDetailID int, gold bool) ([]domain.CardListing, error) {
	q := url.Values{}
	q.Set("card_detail_id", strconv.Itoa(cardDetailID))
	q.Set("gold", strconv.FormatBool(gold))
	var out []domain.CardListing
	if err := c.get(ctx, c.apiLimiter, c.apiBase+"/market/for_sale_by_card?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("splinterlands.CardListings: %d: %w", cardDetailID, err)
	}
	return out, nil
}

// FindCards consulta cards/find. Los uids repetidos se piden una sola vez.
func (c *Client) FindCards(ctx context.Context, uids []string) ([]domain.CardInstance, error) {
	uids = lo.Uniq(lo.Compact(uids))
	if len(uids) == 0 {
		return nil, nil
	}
	var out []domain.CardInstance
	if err := c.get(ctx, c.findLimiter, c.apiBase+"/cards/find?ids="+strings.Join(uids, ","), &out); err != nil {
		return nil, fmt.Errorf("splinterlands.FindCards: %w", err)
	}
	return out, nil
}

// SaleHistory devuelve las transferencias de mercado de la carta.
func (c *Client) SaleHistory(ctx context.Context, uid string) ([]domain.SaleRecord, error) {
	q := url.Values{}
	q.Set("transfer_types", "market")
	q.Set("id", uid)
	var out []domain.SaleRecord
	if err := c.get(ctx, c.apiLimiter, c.historyBase+"/cards/history?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("splinterlands.SaleHistory: %s: %w", uid, err)
	}
	return out, nil
}

// LookupTransaction consulta transactions/lookup. found es false mientras la
// respuesta no trae trx_info.
func (c *Client) LookupTransaction(ctx context.Context, txID string) (domain.TxInfo, bool, error) {
	var resp struct {
		TrxInfo *domain.TxInfo `json:"trx_info"`
	}
	if err := c.get(ctx, c.apiLimiter, c.apiBase+"/transactions/lookup?trx_id="+url.QueryEscape(txID), &resp); err != nil {
		return domain.TxInfo{}, false, fmt.Errorf("splinterlands.LookupTransaction: %s: %w", txID, err)
	}
	if resp.TrxInfo == nil {
		return domain.TxInfo{}, false, nil
	}
	return *resp.TrxInfo, true, nil
}

// Balances devuelve players/balances.
func (c *Client) Balances(ctx context.Context, account string) ([]domain.Balance, error) {
	var out []domain.Balance
	if err := c.get(ctx, c.apiLimiter, c.apiBase+"/players/balances?username="+url.QueryEscape(account), &out); err != nil {
		return nil, fmt.Errorf("splinterlands.Balances: %s: %w", account, err)
	}
	return out, nil
}

// Settings devuelve la configuración del juego, cacheada 5 minutos.
func (c *Client) Settings(ctx context.Context) (domain.GameSettings, error) {
	if v, ok := c.cache.Get(settingsKey); ok {
		return v.(domain.GameSettings), nil
	}
	var gs domain.GameSettings
	if err := c.get(ctx, c.apiLimiter, c.apiBase+"/settings", &gs); err != nil {
		return domain.GameSettings{}, fmt.Errorf("splinterlands.Settings: %w", err)
	}
	c.cache.Set(settingsKey, gs, settingsTTL)
	return gs, nil
}

// CardDetails devuelve el catálogo de cartas, cacheado una hora.
func (c *Client) CardDetails(ctx context.Context) (domain.Catalog, error) {
	if v, ok := c.cache.Get(catalogKey); ok {
		return v.(domain.Catalog), nil
	}
	var details []domain.CardDetail
	if err := c.get(ctx, c.apiLimiter, c.apiBase+"/cards/get_details", &details); err != nil {
		return nil, fmt.Errorf("splinterlands.CardDetails: %w", err)
	}
	catalog := domain.NewCatalog(details)
	c.cache.Set(catalogKey, catalog, catalogTTL)
	return catalog, nil
}

// Invalidate vacía los caches de settings y catálogo.
func (c *Client) Invalidate() { c.cache.Flush() }
