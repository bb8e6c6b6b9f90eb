package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/cardbot/internal/domain"
)

// Console implementa ports.Reporter escribiendo tablas o JSON.
type Console struct {
	out  io.Writer
	json bool
}

// NewConsole crea un reporter que escribe a stdout. format "json" emite JSON.
func NewConsole(format string) *Console {
	return NewConsoleWriter(os.Stdout, format)
}

// NewConsoleWriter crea un reporter sobre w, útil en tests.
func NewConsoleWriter(w io.Writer, format string) *Console {
	return &Console{out: w, json: strings.EqualFold(format, "json")}
}

// ReportInventory imprime una fila por trade activo con su precio de reventa.
func (c *Console) ReportInventory(_ context.Context, rows []domain.InventoryRow) error {
	if c.json {
		return json.NewEncoder(c.out).Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "inventory: no active trades")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Account", "UID", "Card", "Buy $", "Sell $", "Profit $", "Market")

	var buy, profit float64
	listed := 0
	for i, r := range rows {
		market := "-"
		if r.OnMarket {
			market = "listed"
			listed++
		}
		sell := "-"
		if r.SellPrice > 0 {
			sell = fmt.Sprintf("%.3f", r.SellPrice)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			r.Account,
			r.UID,
			truncate(r.Name, 28),
			fmt.Sprintf("%.3f", r.BuyPrice),
			sell,
			fmt.Sprintf("%.3f", r.ProfitUSD),
			market,
		)
		buy += r.BuyPrice
		profit += r.ProfitUSD
	}
	table.Render()

	fmt.Fprintf(c.out, "  Cards: %d (%d listed) | Invested: $%.3f | Expected profit: $%.3f\n",
		len(rows), listed, buy, profit)
	return nil
}

// ReportCycle imprime el resumen de un ciclo periódico.
func (c *Console) ReportCycle(_ context.Context, s domain.CycleSummary) error {
	if c.json {
		return json.NewEncoder(c.out).Encode(s)
	}

	accounts := make([]string, 0, len(s.Balances))
	for a := range s.Balances {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] cycle %s | prices:%d listed:%d",
		s.At.Format("15:04:05"), s.Duration.Round(10*time.Millisecond), s.PriceRows, s.ListedCards)
	for _, a := range accounts {
		fmt.Fprintf(&sb, " | %s $%.3f", a, s.Balances[a])
	}
	fmt.Fprintln(c.out, sb.String())

	fmt.Fprintf(c.out, "  Book: %d open lines (%d priced), %d cards to buy\n",
		s.Book.Lines, s.Book.Priced, s.Book.Quantity)
	t := s.Totals
	fmt.Fprintf(c.out, "  Profit: $%.3f total, $%.3f this month | Sold: %d | Unsold: %d cards ($%.3f, exp. $%.3f)\n",
		t.ProfitUSD, t.ProfitMonth, t.SoldCards, t.Unsold.Cards, t.Unsold.USD, t.Unsold.Profit)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
