package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/wonny/magicformula/internal/contracts"
	"github.com/wonny/magicformula/internal/paginate"
)

const notAvailable = "N/A"

var stockHeader = table.Row{"#", "SYMBOL", "NAME", "EY %", "ROC %", "SCORE", "MARKET CAP", "EV", "EBIT"}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleColoredDark)
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateColumns = false
	return tw
}

// renderStocks prints one page of ranked stocks. Row numbers continue across pages.
func renderStocks(w io.Writer, stocks []contracts.StockRecord, window paginate.Window) {
	tw := newTable(w)
	tw.AppendHeader(stockHeader)

	cfgs := []table.ColumnConfig{{Number: 3, WidthMax: 32}}
	for n := 4; n <= len(stockHeader); n++ {
		cfgs = append(cfgs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignRight})
	}
	tw.SetColumnConfigs(cfgs)

	for i, s := range stocks {
		rank := window.Start + i + 1
		if s.Rank != nil {
			rank = *s.Rank
		}
		tw.AppendRow(table.Row{
			rank,
			s.Symbol,
			s.DisplayName(),
			formatPercent(s.EarningsYield),
			formatPercent(s.ReturnOnCapital),
			formatScore(s.CombinedRank),
			formatMoney(s.MarketCap),
			formatMoney(s.EnterpriseValue),
			formatMoney(s.EBIT),
		})
	}
	tw.Render()
}

// renderStats prints the counters of a cache snapshot
func renderStats(w io.Writer, stats *contracts.CacheStats) {
	if stats == nil {
		return
	}

	tw := newTable(w)
	tw.AppendHeader(table.Row{"METRIC", "VALUE"})
	tw.AppendRow(table.Row{"status", stats.Status})
	tw.AppendRow(table.Row{"healthy", stats.Healthy})
	tw.AppendRow(table.Row{"total keys", stats.TotalKeys})
	tw.AppendRow(table.Row{"hits", stats.Hits})
	tw.AppendRow(table.Row{"misses", stats.Misses})
	tw.AppendRow(table.Row{"hit rate", fmt.Sprintf("%.1f%%", stats.HitRate)})
	if stats.Error != "" {
		tw.AppendRow(table.Row{"error", stats.Error})
	}
	tw.Render()
}

// printCacheLine prints the one-line cache indicator shown under listings
func printCacheLine(stats *contracts.CacheStats) {
	switch {
	case stats == nil:
		fmt.Println("Cache: unknown")
	case stats.Connected():
		fmt.Printf("Cache: %s (%d keys)\n", text.FgGreen.Sprint("connected"), stats.TotalKeys)
	default:
		fmt.Printf("Cache: %s\n", text.FgYellow.Sprint(stats.Status))
	}
}

// formatPercent renders a ratio as a percentage with two decimals
func formatPercent(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return strconv.FormatFloat(*v*100, 'f', 2, 64) + "%"
}

func formatScore(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// formatMoney renders an amount in billions of dollars
func formatMoney(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return fmt.Sprintf("$%.2fB", *v/1e9)
}
