package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound3_Truncates(t *testing.T) {
	assert.Equal(t, 1.234, Round3(1.2349))
	assert.Equal(t, 1.499, Round3(1.4999))
	assert.Equal(t, 0.001, Round3(0.0019))
	assert.Equal(t, 0.0, Round3(0.0009))
	assert.Equal(t, -1.234, Round3(-1.2349))
}

func TestRound3_BinaryRepresentation(t *testing.T) {
	// 1.5-0.001 y 1.1-0.001 no son exactos en float64
	assert.Equal(t, 1.499, Round3(1.5-0.001))
	assert.Equal(t, 1.099, Round3(1.1-0.001))
	assert.Equal(t, 4.999, Round3(5-0.001))
}

func TestBreakEven_Value(t *testing.T) {
	assert.Equal(t, 1.031, BreakEven(1))
	assert.Equal(t, 5.159, BreakEven(5))
}

func TestBreakEven_IncreasingAndAboveBuyPrice(t *testing.T) {
	prev := 0.0
	for cents := 5; cents <= 10000; cents++ {
		x := float64(cents) / 100
		be := BreakEven(x)
		assert.Greater(t, be, x, "x=%v", x)
		assert.Greater(t, be, prev, "x=%v", x)
		prev = be
	}
}

func TestSellPrice_UndercutsMarket(t *testing.T) {
	// 1.5*0.98=1.47, 1.5-0.001=1.499, 1*1.1=1.1 → 1.499
	assert.Equal(t, 1.499, SellPrice(1.5, 1, 10))
}

func TestSellPrice_MarkupFloor(t *testing.T) {
	// mercado barato: manda el markup sobre coste
	assert.Equal(t, 1.1, SellPrice(0.5, 1, 0))
	assert.Equal(t, 1.2, SellPrice(0.5, 1, 20))
}

func TestSellPrice_HighMarketUsesTwoPercent(t *testing.T) {
	// 100*0.98=98 < 99.999 → undercut de 0.001
	assert.Equal(t, 99.999, SellPrice(100, 1, 10))
}

func TestApplyProfit_RoundTrip(t *testing.T) {
	tr := &Trade{Buy: Acquisition{USD: 1}, Sell: &Resale{}}
	ApplyProfit(tr, 1.499)

	assert.Equal(t, 1.499, tr.Sell.USD)
	assert.Equal(t, 0.439, tr.ProfitUSD)
	assert.InDelta(t, 29.29, tr.ProfitMargin, 0.01)
	assert.Equal(t, 1.031, tr.Sell.BreakEven)
}

func TestApplyProfit_KeepsExistingBreakEven(t *testing.T) {
	tr := &Trade{Buy: Acquisition{USD: 5}, Sell: &Resale{BreakEven: 5.16}}
	ApplyProfit(tr, 10)

	assert.Equal(t, 5.16, tr.Sell.BreakEven)
	assert.Equal(t, 4.55, tr.ProfitUSD)
	assert.Equal(t, 45.5, tr.ProfitMargin)
}

func TestApplyProfit_NoOps(t *testing.T) {
	tr := &Trade{Buy: Acquisition{USD: 1}, Sell: &Resale{USD: 2}}
	ApplyProfit(tr, 0)
	assert.Equal(t, 2.0, tr.Sell.USD)
	assert.Equal(t, 0.0, tr.ProfitUSD)

	empty := &Trade{}
	ApplyProfit(empty, 1.5)
	assert.Nil(t, empty.Sell)

	ApplyProfit(nil, 1.5)
}

func TestTrade_TerminalTransitions(t *testing.T) {
	tr := &Trade{Status: TradeActive, Sell: &Resale{USD: 2}, ProfitUSD: 1}
	assert.NoError(t, tr.Close())
	assert.Equal(t, StatusIDClosed, tr.StatusID)
	assert.Nil(t, tr.Sell)
	assert.Equal(t, 0.0, tr.ProfitUSD)

	assert.ErrorIs(t, tr.Close(), ErrTerminalTrade)
	assert.ErrorIs(t, tr.Finish(tr.EditDate), ErrTerminalTrade)
}
