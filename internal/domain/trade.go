package domain

import (
	"errors"
	"time"
)

// ErrTerminalTrade se devuelve al intentar mover un trade que ya terminó.
var ErrTerminalTrade = errors.New("trade already in a terminal state")

// TradeStatus es el estado del ciclo de vida de una carta comprada.
type TradeStatus string

const (
	TradeActive   TradeStatus = "Active"
	TradeFinished TradeStatus = "Finished"
	TradeClosed   TradeStatus = "Closed - (combined or burned)"
)

// StatusID numérico, el que se indexa en el store.
const (
	StatusIDActive   = 0
	StatusIDFinished = 1
	StatusIDClosed   = 2
)

// Acquisition es el registro de compra.
type Acquisition struct {
	TxID        string       `json:"tx_id" bson:"tx_id"`
	USD         float64      `json:"usd" bson:"usd"`
	DEC         float64      `json:"dec" bson:"dec"`
	MarketPrice PriceCeiling `json:"market_price" bson:"market_price"`
}

// Resale es el registro de reventa. nil mientras no exista.
type Resale struct {
	USD       float64 `json:"usd" bson:"usd"`
	BreakEven float64 `json:"break_even" bson:"break_even"`
	TxCount   int     `json:"tx_count" bson:"tx_count"`
	TxID      string  `json:"tx_id,omitempty" bson:"tx_id,omitempty"`
}

// Trade es una carta comprada, seguida hasta que se vende o desaparece.
type Trade struct {
	ID           string      `json:"_id" bson:"_id"`
	Account      string      `json:"account" bson:"account"`
	UID          string      `json:"uid" bson:"uid"`
	CardDetailID int         `json:"card_id" bson:"card_id"`
	CardName     string      `json:"card_name" bson:"card_name"`
	BCX          float64     `json:"bcx" bson:"bcx"`
	XP           int         `json:"xp,omitempty" bson:"xp,omitempty"`
	Gold         bool        `json:"gold" bson:"gold"`
	Buy          Acquisition `json:"buy" bson:"buy"`
	Sell         *Resale     `json:"sell" bson:"sell"`
	Status       TradeStatus `json:"status" bson:"status"`
	StatusID     int         `json:"status_id" bson:"status_id"`
	ProfitUSD    float64     `json:"profit_usd" bson:"profit_usd"`
	ProfitMargin float64     `json:"profit_margin" bson:"profit_margin"`
	CreateDate   time.Time   `json:"create_date" bson:"create_date"`
	EditDate     time.Time   `json:"edit_date" bson:"edit_date"`
	SellDate     *time.Time  `json:"sell_date,omitempty" bson:"sell_date,omitempty"`
	BidIdx       int         `json:"bid_idx" bson:"bid_idx"`
	BidDesc      string      `json:"bid_desc,omitempty" bson:"bid_desc,omitempty"`
	IsManual     bool        `json:"is_manual,omitempty" bson:"is_manual,omitempty"`
}

// IsTerminal indica si el trade ya no admite transiciones.
func (t *Trade) IsTerminal() bool {
	return t.StatusID == StatusIDFinished || t.StatusID == StatusIDClosed
}

// Finish marca el trade como vendido a un tercero.
func (t *Trade) Finish(now time.Time) error {
	if t.IsTerminal() {
		return ErrTerminalTrade
	}
	t.Status = TradeFinished
	t.StatusID = StatusIDFinished
	t.SellDate = &now
	return nil
}

// Close marca el trade como combinado o quemado: profit forzado a 0.
func (t *Trade) Close() error {
	if t.IsTerminal() {
		return ErrTerminalTrade
	}
	t.Status = TradeClosed
	t.StatusID = StatusIDClosed
	t.Sell = nil
	t.ProfitUSD = 0
	t.ProfitMargin = 0
	return nil
}

// BreakEvenPrice devuelve el break-even guardado o lo calcula desde la compra.
func (t *Trade) BreakEvenPrice() float64 {
	if t.Sell != nil && t.Sell.BreakEven > 0 {
		return t.Sell.BreakEven
	}
	return BreakEven(t.Buy.USD)
}

// TotalsID es el id reservado del documento singleton de totales.
const TotalsID = "TOTAL"

// UnsoldExposure resume lo que sigue en inventario.
type UnsoldExposure struct {
	Cards  int     `json:"cards" bson:"cards"`
	USD    float64 `json:"usd" bson:"usd"`
	Profit float64 `json:"profit" bson:"profit"`
}

// Totals es el rollup de beneficio realizado.
type Totals struct {
	ID          string             `json:"_id" bson:"_id"`
	ProfitUSD   float64            `json:"profit_usd" bson:"profit_usd"`
	ProfitMonth float64            `json:"profit_month" bson:"profit_month"`
	SoldCards   int                `json:"sold_cards" bson:"sold_cards"`
	Unsold      UnsoldExposure     `json:"unsold" bson:"unsold"`
	Monthly     map[string]float64 `json:"monthly" bson:"monthly"`
	EditDate    time.Time          `json:"edit_date" bson:"edit_date"`
}

// MonthKey devuelve la clave mensual "YYYY-MM" (UTC).
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// AddProfit suma un resultado realizado al mes de now. sold cuenta una carta vendida.
func (tt *Totals) AddProfit(profit float64, sold bool, now time.Time) {
	if tt.Monthly == nil {
		tt.Monthly = make(map[string]float64)
	}
	if sold {
		tt.SoldCards++
	}
	tt.ProfitUSD += profit
	key := MonthKey(now)
	tt.Monthly[key] += profit
	tt.ProfitMonth = tt.Monthly[key]
	tt.EditDate = now
}

// SetUnsold recalcula la exposición a partir de los trades activos.
func (tt *Totals) SetUnsold(active []Trade) {
	u := UnsoldExposure{Cards: len(active)}
	for _, t := range active {
		u.USD += t.Buy.USD
		u.Profit += t.ProfitUSD
	}
	tt.Unsold = u
}
