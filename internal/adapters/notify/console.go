// Package notify presenta el estado del bot en consola.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime el reporte del tick en el modo configurado.
func (c *Console) Notify(_ context.Context, report ports.TickReport) error {
	if c.table {
		c.printFull(report)
	} else {
		c.printCompact(report)
	}
	return nil
}

// printCompact imprime lo esencial en una línea por tick.
func (c *Console) printCompact(r ports.TickReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] toEnd:%s pos:%d",
		r.At.Format("15:04:05"),
		r.Snapshot.TimeToEnd.Round(time.Second),
		len(r.Positions),
	)

	for _, pos := range r.Positions {
		fmt.Fprintf(&sb, " | %s %.1f@%.1f¢ (%+.1f%%)",
			pos.Side, pos.SizeShares, pos.AvgCostCents,
			pos.UnrealizedPct(pos.LastMarkCents))
	}
	if len(r.Intents) > 0 {
		fmt.Fprintf(&sb, " | intents:%d", len(r.Intents))
	}
	if r.Stats.Sells > 0 {
		fmt.Fprintf(&sb, " | PnL:%+.0f¢ win:%.0f%%", r.Stats.RealizedCents, r.Stats.WinRate)
	}
	if !r.FeedOK {
		sb.WriteString(" | FEED STALE")
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime posiciones, últimos trades y estadísticas en tablas.
func (c *Console) printFull(r ports.TickReport) {
	fmt.Fprintf(c.out, "\n[%s] interval %s — start in %s, end in %s\n",
		r.At.Format("15:04:05"),
		r.Snapshot.Current.IntervalID,
		r.Snapshot.TimeToStart.Round(time.Second),
		r.Snapshot.TimeToEnd.Round(time.Second),
	)

	for _, w := range r.Warnings {
		fmt.Fprintf(c.out, "  ! %s\n", w)
	}

	if len(r.Positions) > 0 {
		c.printPositions(r.Positions)
	}
	if len(r.Trades) > 0 {
		c.printTrades(r.Trades)
	}
	if len(r.Dailies) > 0 {
		c.printDailies(r.Dailies)
	}
	c.printSummary(r)
}

func (c *Console) printPositions(positions []domain.Position) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Side", "Size", "AvgCost", "Mark", "Unreal", "Est", "Token")

	for _, pos := range positions {
		est := ""
		if pos.CostEstimated {
			est = "~"
		}
		table.Append(
			string(pos.Side),
			fmt.Sprintf("%.1f", pos.SizeShares),
			fmt.Sprintf("%.1f¢", pos.AvgCostCents),
			fmt.Sprintf("%.1f¢", pos.LastMarkCents),
			fmt.Sprintf("%+.1f%%", pos.UnrealizedPct(pos.LastMarkCents)),
			est,
			shortID(pos.TokenID),
		)
	}
	table.Render()
}

func (c *Console) printTrades(trades []domain.TradeRecord) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Action", "Side", "Price", "Size", "PnL", "Reason")

	for _, tr := range trades {
		pnl := ""
		if tr.Action == domain.ActionSell {
			pnl = fmt.Sprintf("%+.0f¢", tr.RealizedTotal())
		}
		table.Append(
			tr.Timestamp.Format("15:04:05"),
			string(tr.Action),
			string(tr.Side),
			fmt.Sprintf("%.1f¢", tr.FilledCents),
			fmt.Sprintf("%.1f", tr.FilledSize),
			pnl,
			string(tr.Reason),
		)
	}
	table.Render()
}

func (c *Console) printDailies(dailies []domain.DailySummary) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "Trades", "Sells", "W/L", "PnL")

	for _, d := range dailies {
		table.Append(
			d.Date.Format("2006-01-02"),
			fmt.Sprintf("%d", d.Trades),
			fmt.Sprintf("%d", d.Sells),
			fmt.Sprintf("%d/%d", d.Wins, d.Losses),
			fmt.Sprintf("%+.0f¢", d.RealizedCents),
		)
	}
	table.Render()
}

func (c *Console) printSummary(r ports.TickReport) {
	fmt.Fprintf(c.out, "trades:%d sells:%d W/L:%d/%d win:%.0f%% realized:%+.0f¢\n",
		r.Stats.TotalTrades, r.Stats.Sells, r.Stats.Wins, r.Stats.Losses,
		r.Stats.WinRate, r.Stats.RealizedCents,
	)

	if len(r.PriceAges) > 0 {
		ids := make([]string, 0, len(r.PriceAges))
		for id := range r.PriceAges {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		var sb strings.Builder
		sb.WriteString("ages:")
		for _, id := range ids {
			fmt.Fprintf(&sb, " %s=%s", shortID(id), r.PriceAges[id].Round(time.Second))
		}
		if !r.FeedOK {
			sb.WriteString("  [FEED STALE]")
		}
		fmt.Fprintln(c.out, sb.String())
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
