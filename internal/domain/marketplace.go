package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// MarketPrice es una fila de market/for_sale_grouped: precio mínimo por carta y foil.
type MarketPrice struct {
	CardDetailID int     `json:"card_detail_id"`
	Gold         bool    `json:"gold"`
	Edition      int     `json:"edition"`
	Qty          int     `json:"qty"`
	LowPrice     float64 `json:"low_price"`
	LowPriceBCX  float64 `json:"low_price_bcx"`
	HighPrice    float64 `json:"high_price"`
}

// FindMarketPrice busca la fila de (id, gold).
func FindMarketPrice(prices []MarketPrice, id int, gold bool) (MarketPrice, bool) {
	for _, p := range prices {
		if p.CardDetailID == id && p.Gold == gold {
			return p, true
		}
	}
	return MarketPrice{}, false
}

// ReferenceBid es el mejor bid externo de una carta.
type ReferenceBid struct {
	CardDetailID int     `json:"card_detail_id"`
	Gold         bool    `json:"gold"`
	Edition      int     `json:"edition"`
	USDPrice     float64 `json:"usd_price"`
}

// CardListing es una publicación de venta de market/for_sale_by_card.
type CardListing struct {
	UID      string  `json:"uid"`
	Seller   string  `json:"seller"`
	MarketID string  `json:"market_id"`
	BuyPrice float64 `json:"buy_price"`
	XP       int     `json:"xp"`
}

// SaleRecord es una fila del historial de transferencias de una carta.
type SaleRecord struct {
	CardID          string `json:"card_id"`
	TransferDate    string `json:"transfer_date"`
	TransferType    string `json:"transfer_type"`
	FromPlayer      string `json:"from_player"`
	ToPlayer        string `json:"to_player"`
	PaymentAmount   Amount `json:"payment_amount"`
	PaymentCurrency string `json:"payment_currency"`
}

// SalePrice devuelve lo cobrado por account en la primera venta encontrada, o 0.
func SalePrice(history []SaleRecord, account string) float64 {
	for _, h := range history {
		if h.FromPlayer == account {
			return h.PaymentAmount.Float()
		}
	}
	return 0
}

// Balance es un saldo de players/balances.
type Balance struct {
	Player  string  `json:"player"`
	Token   string  `json:"token"`
	Balance float64 `json:"balance"`
}

// PurchaseResult es el "result" de una compra liquidada.
type PurchaseResult struct {
	Success      bool    `json:"success"`
	Purchaser    string  `json:"purchaser"`
	NumCards     int     `json:"num_cards"`
	TotalUSD     float64 `json:"total_usd"`
	TotalDEC     float64 `json:"total_dec"`
	TotalFeesDEC float64 `json:"total_fees_dec"`
	BySeller     []struct {
		Seller string   `json:"seller"`
		Items  []string `json:"items"`
	} `json:"by_seller"`
}

// Items devuelve los market ids liquidados del primer vendedor.
func (r PurchaseResult) Items() []string {
	if len(r.BySeller) == 0 {
		return nil
	}
	return r.BySeller[0].Items
}

// TxInfo es el resultado de transactions/lookup.
type TxInfo struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Player      string    `json:"player"`
	Success     bool      `json:"success"`
	Error       string    `json:"error"`
	Result      string    `json:"result"`
	BlockNum    int64     `json:"block_num"`
	CreatedDate time.Time `json:"created_date"`
}

// ParseResult decodifica el JSON embebido en Result.
func (t TxInfo) ParseResult() (PurchaseResult, error) {
	var r PurchaseResult
	if t.Result == "" {
		return r, nil
	}
	err := json.Unmarshal([]byte(t.Result), &r)
	return r, err
}

// ThreeBlockError indica que el mercado rechazó la compra por llegar fuera de la ventana.
func (t TxInfo) ThreeBlockError() bool {
	return strings.Contains(t.Error, "3 blocks")
}
