package trading_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/cardbot/internal/application/engine/trading"
	"github.com/alejandrodnm/cardbot/internal/domain"
)

func TestIsBulk(t *testing.T) {
	many := func(uids ...string) []domain.SellListing {
		out := make([]domain.SellListing, len(uids))
		for i, u := range uids {
			out[i] = listing(u, 1)
		}
		return out
	}

	assert.False(t, trading.IsBulk(many("C4-171-A"), 1))
	assert.False(t, trading.IsBulk(many("C4-171-A", "C4-172-B", "G4-171-C"), 1), "distinct cards")
	assert.True(t, trading.IsBulk(many("C4-171-A", "C4-171-B"), 1))
	assert.False(t, trading.IsBulk(many("C4-171-A", "C4-171-B", "C4-171-C"), 3))

	// el límite nunca pasa de 10
	var eleven []string
	for i := 0; i < 11; i++ {
		eleven = append(eleven, "C4-171-"+string(rune('A'+i)))
	}
	assert.True(t, trading.IsBulk(many(eleven...), 50))
	assert.False(t, trading.IsBulk(many("bad", "worse"), 1), "unparseable uids are not counted")
}

func TestCallBudget(t *testing.T) {
	b := trading.NewCallBudget(2)
	assert.True(t, b.Take())
	assert.True(t, b.Take())
	assert.False(t, b.Take())
	assert.Equal(t, 0, b.Remaining())

	b.Reset()
	assert.Equal(t, 2, b.Remaining())
}

func TestCallBudget_TickerResets(t *testing.T) {
	b := trading.NewCallBudget(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.True(t, b.Take())
	b.Start(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return b.Remaining() == 1 }, time.Second, 5*time.Millisecond)
}
