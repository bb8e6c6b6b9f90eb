package domain

import (
	"fmt"
	"math"
)

// DECSettings son las tasas de quema de la economía del juego.
type DECSettings struct {
	UntamedBurnRate []float64 `json:"untamed_burn_rate"`
	BurnRate        []float64 `json:"burn_rate"`
	AlphaBurnBonus  float64   `json:"alpha_burn_bonus"`
	PromoBurnBonus  float64   `json:"promo_burn_bonus"`
	MaxBurnBonus    float64   `json:"max_burn_bonus"`
	GoldBurnBonus   float64   `json:"gold_burn_bonus"`
	GoldBurnBonus2  float64   `json:"gold_burn_bonus_2"`
}

// GameSettings es el subconjunto de /settings que usa el bot.
type GameSettings struct {
	Version          string      `json:"version"`
	DECPrice         float64     `json:"dec_price"`
	XPLevels         [][]float64 `json:"xp_levels"`
	CombineRates     [][]float64 `json:"combine_rates"`
	CombineRatesGold [][]float64 `json:"combine_rates_gold"`
	AlphaXP          []float64   `json:"alpha_xp"`
	GoldXP           []float64   `json:"gold_xp"`
	BetaXP           []float64   `json:"beta_xp"`
	BetaGoldXP       []float64   `json:"beta_gold_xp"`
	DEC              DECSettings `json:"dec"`
}

// usesCombineRates: untamed y posteriores (tier >= 4) cuentan bcx directamente en xp.
func usesCombineRates(edition int, d CardDetail) bool {
	return edition == EditionUntamed || d.Tier >= 4
}

func at(xs []float64, i int) (float64, error) {
	if i < 0 || i >= len(xs) {
		return 0, fmt.Errorf("index %d out of range (len %d)", i, len(xs))
	}
	return xs[i], nil
}

// CalcBCX calcula el número de copias (bcx) de una carta a partir de su xp.
func CalcBCX(c CardInstance, d CardDetail, gs GameSettings) (float64, error) {
	if usesCombineRates(c.Edition, d) {
		return float64(c.XP), nil
	}

	alphaXP := 0
	if c.XP > 1 {
		alphaXP = c.AlphaXP
	}
	xp := math.Max(float64(c.XP-alphaXP), 0)

	var table []float64
	switch {
	case c.Edition == EditionAlpha || (c.Edition == EditionPromo && d.ID < 100):
		table = gs.AlphaXP
		if c.Gold {
			table = gs.GoldXP
		}
	default:
		table = gs.BetaXP
		if c.Gold {
			table = gs.BetaGoldXP
		}
	}

	bcxXP, err := at(table, d.Rarity-1)
	if err != nil {
		return 0, fmt.Errorf("domain.CalcBCX: card %d: xp table: %w", d.ID, err)
	}
	if bcxXP == 0 {
		return 0, fmt.Errorf("domain.CalcBCX: card %d: zero xp per copy for rarity %d", d.ID, d.Rarity)
	}
	if c.Gold {
		return math.Max(xp/bcxXP, 1), nil
	}
	return math.Max((xp+bcxXP)/bcxXP, 1), nil
}

// MaxXP devuelve la xp a partir de la cual la carta está al nivel máximo.
func MaxXP(d CardDetail, edition int, gold bool, gs GameSettings) (float64, error) {
	var row []float64
	if usesCombineRates(edition, d) {
		rates := gs.CombineRates
		if gold {
			rates = gs.CombineRatesGold
		}
		if d.Rarity-1 < 0 || d.Rarity-1 >= len(rates) {
			return 0, fmt.Errorf("domain.MaxXP: rarity %d out of range", d.Rarity)
		}
		row = rates[d.Rarity-1]
	} else {
		if d.Rarity-1 < 0 || d.Rarity-1 >= len(gs.XPLevels) {
			return 0, fmt.Errorf("domain.MaxXP: rarity %d out of range", d.Rarity)
		}
		row = gs.XPLevels[d.Rarity-1]
	}
	if len(row) == 0 {
		return 0, fmt.Errorf("domain.MaxXP: empty level table for rarity %d", d.Rarity)
	}
	return row[len(row)-1], nil
}

// CalcCP calcula el collection power (DEC de quema) de una carta con bcx copias.
func CalcCP(c CardInstance, bcx float64, d CardDetail, gs GameSettings) (float64, error) {
	edition := c.Edition
	if edition == 0 && d.FirstEdition() > 0 {
		edition = d.FirstEdition()
	}

	rates := gs.DEC.BurnRate
	if usesCombineRates(edition, d) {
		rates = gs.DEC.UntamedBurnRate
	}
	rate, err := at(rates, d.Rarity-1)
	if err != nil {
		return 0, fmt.Errorf("domain.CalcCP: card %d: burn rate: %w", d.ID, err)
	}

	dec := rate * bcx
	if c.Gold {
		bonus := gs.DEC.GoldBurnBonus
		if d.Tier >= 7 {
			bonus = gs.DEC.GoldBurnBonus2
		}
		dec *= bonus
	}
	switch edition {
	case EditionAlpha:
		dec *= gs.DEC.AlphaBurnBonus
	case EditionPromo:
		dec *= gs.DEC.PromoBurnBonus
	}

	maxXP, err := MaxXP(d, edition, c.Gold, gs)
	if err != nil {
		return 0, fmt.Errorf("domain.CalcCP: %w", err)
	}
	if float64(c.XP) >= maxXP {
		dec *= gs.DEC.MaxBurnBonus
	}
	if d.Tier >= 7 {
		dec /= 2
	}
	return dec, nil
}
