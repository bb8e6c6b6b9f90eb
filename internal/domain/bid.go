package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBidNoPriceSignal = errors.New("bid has no max price, min cp per usd, auto price or below burn value")
	ErrBidNoQuantity    = errors.New("bid has no max quantity")
)

// BidLine es el presupuesto de un Bid para un card_detail_id.
type BidLine struct {
	MaxQuantity int     `yaml:"max_quantity" json:"max_quantity"`
	Quantity    int     `yaml:"quantity" json:"quantity"` // restante
	MaxBCX      int     `yaml:"max_bcx" json:"max_bcx"`
	BCX         int     `yaml:"bcx" json:"bcx"` // presupuesto de copias restante
	MaxBCXPrice float64 `yaml:"max_bcx_price" json:"max_bcx_price"`
}

// Bid es una orden de compra permanente leída de la configuración.
// ID define la prioridad: menor ID, mayor prioridad.
type Bid struct {
	ID      int    `yaml:"id"`
	Comment string `yaml:"comment"`

	Cards    map[int]BidLine `yaml:"cards"`
	Editions []string        `yaml:"editions"`
	Rarities []string        `yaml:"rarities"`
	Elements []string        `yaml:"elements"`
	Types    []string        `yaml:"types"`

	MaxQuantity       int     `yaml:"max_quantity"`
	MaxBCX            int     `yaml:"max_bcx"`
	MaxBCXPrice       float64 `yaml:"max_bcx_price"`
	MinCPPerUSD       float64 `yaml:"min_cp_per_usd"`
	GoldOnly          bool    `yaml:"gold_only"`
	OnlyModern        bool    `yaml:"only_modern"`
	SellForPctMore    float64 `yaml:"sell_for_pct_more"`
	BuyPctBelowMarket float64 `yaml:"buy_pct_below_market"`
	AutoSetBuyPrice   bool    `yaml:"auto_set_buy_price"`
	BelowBurnValue    bool    `yaml:"below_burn_value"`
}

// WithBidDefaults devuelve una copia del bid con todos los campos opcionales
// inicializados. No modifica el original.
func WithBidDefaults(b Bid) Bid {
	out := b
	out.Cards = make(map[int]BidLine, len(b.Cards))
	for id, line := range b.Cards {
		out.Cards[id] = line
	}
	out.Editions = cloneStrings(b.Editions)
	out.Rarities = cloneStrings(b.Rarities)
	out.Elements = cloneStrings(b.Elements)
	out.Types = cloneStrings(b.Types)
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Validate comprueba que el bid tenga alguna señal de precio y un tope de cantidad.
func (b Bid) Validate() error {
	missingLinePrice := false
	missingLineQty := false
	for _, line := range b.Cards {
		if line.MaxBCXPrice <= 0 {
			missingLinePrice = true
		}
		if line.MaxQuantity <= 0 {
			missingLineQty = true
		}
	}

	noFixedPrice := b.MaxBCXPrice <= 0 && (len(b.Cards) == 0 || missingLinePrice)
	if noFixedPrice && b.MinCPPerUSD <= 0 && !b.AutoSetBuyPrice && !b.BelowBurnValue {
		return fmt.Errorf("bid %d: %w", b.ID, ErrBidNoPriceSignal)
	}
	if b.MaxQuantity <= 0 && (len(b.Cards) == 0 || missingLineQty) {
		return fmt.Errorf("bid %d: %w", b.ID, ErrBidNoQuantity)
	}
	return nil
}

// NeedsCopyCheck indica si el matcher debe calcular bcx/cp para esta línea.
func (b Bid) NeedsCopyCheck(line BidLine) bool {
	return line.BCX > 0 || b.MinCPPerUSD > 0 || b.BelowBurnValue
}

// PriceCeiling es el precio máximo de compra calculado en cada refresh.
// Nunca se persiste.
type PriceCeiling struct {
	BuyPrice    float64 `json:"buy_price" bson:"buy_price"`
	LowPrice    float64 `json:"low_price,omitempty" bson:"low_price,omitempty"`
	LowPriceBCX float64 `json:"low_price_bcx,omitempty" bson:"low_price_bcx,omitempty"`
	RefBid      float64 `json:"ref_bid,omitempty" bson:"ref_bid,omitempty"`
}

// ResaleReference devuelve el precio de mercado de referencia para reventa.
func (p PriceCeiling) ResaleReference(bcx float64) float64 {
	if bcx > 1 {
		return p.LowPriceBCX
	}
	return p.LowPrice
}
