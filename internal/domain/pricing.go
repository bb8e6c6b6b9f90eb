package domain

import "math"

// Comisiones del mercado: al vender se cobra el 6% y al comprar el 3%.
const (
	SellNetRate      = 0.94
	BuyCostRate      = 0.97
	DefaultMarkupPct = 10.0
	undercutStep     = 0.001
)

// round3Guard absorbe el error de representación binaria antes de truncar
// (1.5-0.001 no es exactamente 1.499 en float64).
const round3Guard = 1e-9

// Round3 trunca a 3 decimales. No redondea: 1.2349 → 1.234.
func Round3(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	if x < 0 {
		return -math.Trunc(-x*1000+round3Guard) / 1000
	}
	return math.Trunc(x*1000+round3Guard) / 1000
}

// BreakEven es el precio de venta con el que el profit es exactamente 0
// después de ambas comisiones.
func BreakEven(buyPrice float64) float64 {
	return Round3(buyPrice * 97 / 94)
}

// SellPrice devuelve el precio de reventa: nunca por debajo de un pequeño
// undercut del mercado ni del markup deseado sobre el coste.
// pctMore <= 0 usa el markup por defecto (10%).
func SellPrice(marketPrice, buyPrice, pctMore float64) float64 {
	if pctMore <= 0 {
		pctMore = DefaultMarkupPct
	}
	price := math.Max(marketPrice*0.98, Round3(marketPrice-undercutStep))
	price = math.Max(price, buyPrice*(1+pctMore/100))
	return Round3(price)
}

// Profit es el beneficio neto de vender a sellPrice lo comprado a buyPrice.
func Profit(sellPrice, buyPrice float64) float64 {
	return Round3(sellPrice*SellNetRate - buyPrice*BuyCostRate)
}

// ApplyProfit fija el precio de reventa del trade y recalcula profit y margen.
// No hace nada si sellPrice es 0 o el trade no tiene registros de compra ni venta.
func ApplyProfit(t *Trade, sellPrice float64) {
	if t == nil || sellPrice == 0 || math.IsNaN(sellPrice) {
		return
	}
	if t.Sell == nil && t.Buy.USD == 0 && t.Buy.TxID == "" {
		return
	}
	if t.Sell == nil {
		t.Sell = &Resale{}
	}

	t.Sell.USD = Round3(sellPrice)
	if t.Sell.BreakEven == 0 {
		t.Sell.BreakEven = BreakEven(t.Buy.USD)
	}
	t.ProfitUSD = Profit(sellPrice, t.Buy.USD)
	t.ProfitMargin = Round3(t.ProfitUSD / sellPrice * 100)
}
