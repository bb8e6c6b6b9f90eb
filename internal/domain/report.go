package domain

import "time"

// InventoryRow es una línea del reporte de inventario.
type InventoryRow struct {
	Account   string
	UID       string
	Name      string
	BuyPrice  float64
	SellPrice float64
	ProfitUSD float64
	OnMarket  bool
}

// NewInventoryRow arma la fila de un trade activo con el estado vivo de su carta.
func NewInventoryRow(t Trade, live CardInstance) InventoryRow {
	uid := t.UID
	if len(uid) > 10 {
		uid = uid[:10]
	}
	name := t.CardName
	if live.Details.Name != "" {
		name = live.Details.Name
	}
	sell := 0.0
	if t.Sell != nil {
		sell = Round3(t.Sell.USD)
	}
	return InventoryRow{
		Account:   t.Account,
		UID:       uid,
		Name:      name,
		BuyPrice:  t.Buy.USD,
		SellPrice: sell,
		ProfitUSD: Round3(t.ProfitUSD),
		OnMarket:  live.ListedForSale(),
	}
}

// CycleSummary resume un ciclo periódico.
type CycleSummary struct {
	At          time.Time
	Balances    map[string]float64
	PriceRows   int
	ListedCards int
	Duration    time.Duration
	Totals      Totals
	Book        BookStats
}

// BookStats resume las líneas del libro que todavía pueden comprar.
type BookStats struct {
	Lines    int
	Priced   int // con techo de precio en el último refresh
	Quantity int
}
