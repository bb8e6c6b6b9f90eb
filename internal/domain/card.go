package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ModernCardCutoff es el primer card_detail_id de la era "modern".
const ModernCardCutoff = 299

// ErrInvalidUID se devuelve cuando el uid de una carta no codifica su card_detail_id.
var ErrInvalidUID = errors.New("invalid card uid")

// Ediciones por número tal como las devuelve la API.
const (
	EditionAlpha   = 0
	EditionBeta    = 1
	EditionPromo   = 2
	EditionReward  = 3
	EditionUntamed = 4
	EditionDice    = 5
	EditionChaos   = 7
	EditionRift    = 8
	EditionRebel   = 12
)

var editionNames = map[int]string{
	EditionAlpha:   "alpha",
	EditionBeta:    "beta",
	EditionPromo:   "promo",
	EditionReward:  "reward",
	EditionUntamed: "untamed",
	EditionDice:    "dice",
	EditionChaos:   "chaos",
	EditionRift:    "rift",
	EditionRebel:   "rebel",
}

var rarityNames = map[int]string{
	1: "common",
	2: "rare",
	3: "epic",
	4: "legendary",
}

// color de la API → splinter
var colorToSplinter = map[string]string{
	"red":   "fire",
	"blue":  "water",
	"white": "life",
	"black": "death",
	"green": "earth",
	"gold":  "dragon",
	"gray":  "neutral",
}

// EditionName devuelve el nombre de la edición o "" si es desconocida.
func EditionName(edition int) string { return editionNames[edition] }

// RarityName devuelve el nombre de la rareza (1..4) o "".
func RarityName(rarity int) string { return rarityNames[rarity] }

// ColorToSplinter traduce el color de una carta al nombre del splinter en minúsculas.
func ColorToSplinter(color string) string {
	return colorToSplinter[strings.ToLower(color)]
}

// CardDetail es una entrada del catálogo (cards/get_details).
type CardDetail struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Type     string `json:"type"`
	Rarity   int    `json:"rarity"`
	Editions string `json:"editions"` // "4" o "7,8"
	Tier     int    `json:"tier"`
	IsPromo  bool   `json:"is_promo"`
}

// EditionList devuelve las ediciones codificadas en Editions ("7,8" → [7 8]).
func (c CardDetail) EditionList() []int {
	var out []int
	for _, part := range strings.Split(c.Editions, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// FirstEdition devuelve la primera edición del catálogo, o -1.
func (c CardDetail) FirstEdition() int {
	eds := c.EditionList()
	if len(eds) == 0 {
		return -1
	}
	return eds[0]
}

// Catalog indexa el catálogo por id.
type Catalog map[int]CardDetail

// NewCatalog construye el índice a partir de la lista de la API.
func NewCatalog(details []CardDetail) Catalog {
	c := make(Catalog, len(details))
	for _, d := range details {
		c[d.ID] = d
	}
	return c
}

// CardInstance es el estado vivo de una carta concreta (cards/find).
type CardInstance struct {
	Player            string     `json:"player"`
	UID               string     `json:"uid"`
	CardDetailID      int        `json:"card_detail_id"`
	XP                int        `json:"xp"`
	AlphaXP           int        `json:"alpha_xp"`
	Gold              bool       `json:"gold"`
	Edition           int        `json:"edition"`
	BCX               float64    `json:"bcx"`
	MarketID          string     `json:"market_id"`
	BuyPrice          Amount     `json:"buy_price"`
	MarketListingType string     `json:"market_listing_type"`
	DelegatedTo       string     `json:"delegated_to"`
	LockDays          float64    `json:"lock_days"`
	StakePlot         string     `json:"stake_plot"`
	StakeEndDate      string     `json:"stake_end_date"`
	CombinedCardID    string     `json:"combined_card_id"`
	LastBuyPrice      Amount     `json:"last_buy_price"`
	Details           CardDetail `json:"details"`
}

// ListedForSale indica si la carta está publicada en el mercado como venta.
func (c CardInstance) ListedForSale() bool {
	return c.MarketID != "" && c.MarketListingType == "SELL"
}

var uidPattern = regexp.MustCompile(`^.+-(\d+)-.+$`)

// ParseUID extrae el card_detail_id y el flag gold de un uid ("G4-168-ABC").
func ParseUID(uid string) (id int, gold bool, err error) {
	m := uidPattern.FindStringSubmatch(uid)
	if m == nil {
		return 0, false, ErrInvalidUID
	}
	id, err = strconv.Atoi(m[1])
	if err != nil || id <= 0 {
		return 0, false, ErrInvalidUID
	}
	return id, strings.HasPrefix(uid, "G"), nil
}

// Amount es un número que la API devuelve a veces como string ("1.500") y a veces como número.
type Amount float64

// UnmarshalJSON acepta número, string numérico o null.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

// Float devuelve el valor como float64.
func (a Amount) Float() float64 { return float64(a) }
