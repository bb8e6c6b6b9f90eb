package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Ids de custom_json del mercado.
const (
	OpSellCards      = "sm_sell_cards"
	OpMarketPurchase = "sm_market_purchase"
	OpUpdatePrice    = "sm_update_price"
	OpTokenTransfer  = "sm_token_transfer"
	OpDelegateRC     = "rc"
)

// Monedas de pago de una cuenta.
const (
	CurrencyDEC     = "DEC"
	CurrencyCredits = "CREDITS"
)

// DefaultListingFeePct es la comisión asumida cuando el listing no la trae.
const DefaultListingFeePct = 6

// SellListing es una publicación dentro de un sm_sell_cards.
type SellListing struct {
	Cards    []string `json:"cards"`
	Currency string   `json:"currency,omitempty"`
	Price    Amount   `json:"price"`
	FeePct   float64  `json:"fee_pct,omitempty"`
}

// UID devuelve el uid de la primera carta, o "".
func (l SellListing) UID() string {
	if len(l.Cards) == 0 {
		return ""
	}
	return l.Cards[0]
}

// ParseSellListings decodifica el json de un sm_sell_cards: un objeto o un array.
func ParseSellListings(raw string) ([]SellListing, error) {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 {
		return nil, fmt.Errorf("domain.ParseSellListings: empty payload")
	}
	if data[0] == '[' {
		var out []SellListing
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("domain.ParseSellListings: %w", err)
		}
		return out, nil
	}
	var one SellListing
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("domain.ParseSellListings: %w", err)
	}
	return []SellListing{one}, nil
}

// CustomJSON es la operación custom_json del ledger.
type CustomJSON struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

// Signer devuelve la cuenta que firma y si necesita la active key.
func (c CustomJSON) Signer() (account string, active bool) {
	if len(c.RequiredAuths) > 0 {
		return c.RequiredAuths[0], true
	}
	if len(c.RequiredPostingAuths) > 0 {
		return c.RequiredPostingAuths[0], false
	}
	return "", false
}

// NewActiveOp construye un custom_json firmado con active key.
func NewActiveOp(account, id string, payload any) (CustomJSON, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return CustomJSON{}, fmt.Errorf("domain.NewActiveOp: %w", err)
	}
	return CustomJSON{
		RequiredAuths:        []string{account},
		RequiredPostingAuths: []string{},
		ID:                   id,
		JSON:                 string(b),
	}, nil
}

// NewPostingOp construye un custom_json firmado con posting key.
func NewPostingOp(account, id string, payload any) (CustomJSON, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return CustomJSON{}, fmt.Errorf("domain.NewPostingOp: %w", err)
	}
	return CustomJSON{
		RequiredAuths:        []string{},
		RequiredPostingAuths: []string{account},
		ID:                   id,
		JSON:                 string(b),
	}, nil
}

// OperationEvent es una operación del stream del ledger.
type OperationEvent struct {
	Name      string          // "custom_json", "transfer", ...
	Payload   json.RawMessage // cuerpo de la operación
	TxID      string
	Timestamp time.Time
	Block     int64
}

// CustomJSON decodifica el payload si la operación es un custom_json.
func (e OperationEvent) CustomJSON() (CustomJSON, bool) {
	if e.Name != "custom_json" {
		return CustomJSON{}, false
	}
	var op CustomJSON
	if err := json.Unmarshal(e.Payload, &op); err != nil {
		return CustomJSON{}, false
	}
	return op, true
}

// ListingEvent es una publicación concreta lista para evaluar.
type ListingEvent struct {
	Listing       SellListing
	CorrelationID string // trx_id + "-" + índice; es el market id de la publicación
	TxID          string
	Timestamp     time.Time
	Block         int64
}

// CorrelationID compone el market id de la publicación index-ésima de una tx.
func CorrelationID(txID string, index int) string {
	return txID + "-" + strconv.Itoa(index)
}

// BuyIntent es una publicación aceptada por el matcher, pendiente de comprar.
type BuyIntent struct {
	SellerTxID     string
	BidIdx         int
	BidDesc        string
	SellForPctMore float64
	UID            string
	CardDetailID   int
	CardName       string
	Gold           bool
	BCX            float64
	CP             float64
	Price          float64
	FeePct         float64
	Ceiling        PriceCeiling
}

// Copies devuelve cuántas unidades de cantidad consume el intent (mínimo 1).
func (b BuyIntent) Copies() int {
	if b.BCX < 1 {
		return 1
	}
	return int(math.Ceil(b.BCX))
}

// SellOrder es una publicación de venta pendiente dentro de un sm_sell_cards.
type SellOrder struct {
	Cards        []string `json:"cards"`
	Currency     string   `json:"currency"`
	Price        float64  `json:"price"`
	FeePct       int      `json:"fee_pct"`
	ListFee      int      `json:"list_fee"`
	ListFeeToken string   `json:"list_fee_token"`
}

// NewSellOrder construye la orden de venta estándar en USD.
func NewSellOrder(uid string, price float64) SellOrder {
	return SellOrder{
		Cards:        []string{uid},
		Currency:     "USD",
		Price:        Round3(price),
		FeePct:       600,
		ListFee:      1,
		ListFeeToken: "DEC",
	}
}
