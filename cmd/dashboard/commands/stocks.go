package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/magicformula/internal/backend"
	"github.com/wonny/magicformula/internal/contracts"
	"github.com/wonny/magicformula/internal/fetch"
	"github.com/wonny/magicformula/internal/paginate"
)

// stocksCmd represents the stocks command
var stocksCmd = &cobra.Command{
	Use:   "stocks",
	Short: "Top Magic Formula 종목 조회",
	Long: `Loads the ranked list for a period once and prints one page.

A period the backend is still calculating is reported as processing;
run the command again later or warm the cache.

Example:
  go run ./cmd/dashboard stocks
  go run ./cmd/dashboard stocks --year 2023 --limit 30 --page 2
  go run ./cmd/dashboard stocks --mode monthly --year 2024 --month 3 --force`,
	RunE: runStocks,
}

var (
	stocksMode  string
	stocksYear  int
	stocksMonth int
	stocksLimit int
	stocksPage  int
	stocksForce bool
	stocksJSON  bool
)

func init() {
	rootCmd.AddCommand(stocksCmd)

	stocksCmd.Flags().StringVar(&stocksMode, "mode", string(contracts.ModeYearly), "yearly or monthly")
	stocksCmd.Flags().IntVar(&stocksYear, "year", 0, "year (default DASHBOARD_DEFAULT_YEAR)")
	stocksCmd.Flags().IntVar(&stocksMonth, "month", int(time.Now().Month()), "month for monthly mode")
	stocksCmd.Flags().IntVar(&stocksLimit, "limit", 0, "number of stocks (default DASHBOARD_DEFAULT_LIMIT)")
	stocksCmd.Flags().IntVar(&stocksPage, "page", 1, "page to print")
	stocksCmd.Flags().BoolVar(&stocksForce, "force", false, "ask the backend to recompute instead of using its cache")
	stocksCmd.Flags().BoolVar(&stocksJSON, "json", false, "print the page as JSON")
}

func runStocks(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}

	q := contracts.DefaultQuery(cfg.Dashboard.DefaultYear, cfg.Dashboard.DefaultLimit, time.Now())
	q.Mode = contracts.Mode(stocksMode)
	q.Month = stocksMonth
	if stocksYear != 0 {
		q.Year = stocksYear
	}
	if stocksLimit != 0 {
		q.Limit = stocksLimit
	}
	if err := q.Validate(time.Now()); err != nil {
		return err
	}

	be := newBackend(cfg, log)
	fetcher := fetch.New(be, backend.NewAdminClient(be, staticToken), log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
	defer cancel()

	res := fetcher.Load(ctx, q, token, stocksForce)
	fetcher.Wait()

	switch res.Outcome {
	case fetch.Processing:
		fmt.Printf("⏳ %s: %s\n", q.Period(), res.Message())
		return nil
	case fetch.Error:
		return fmt.Errorf("%s", res.Message())
	}

	var stocks []contracts.StockRecord
	if res.Data != nil {
		stocks = res.Data.Stocks
	}
	window := paginate.Paginate(len(stocks), cfg.Dashboard.PageSize, stocksPage)
	page := paginate.Slice(stocks, window)

	if stocksJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"query":  q,
			"page":   window,
			"cached": res.Data.Cached,
			"stocks": page,
		})
	}

	if len(stocks) == 0 {
		fmt.Printf("No stocks found for %s\n", q.Period())
		return nil
	}

	renderStocks(os.Stdout, page, window)
	fmt.Printf("\nPeriod %s · page %d/%d · %d stocks · cached=%t\n",
		q.Period(), window.Page, window.PageCount, window.Total, res.Data.Cached)
	if window.HasPrev() {
		fmt.Printf("Prev: --page %d\n", window.Page-1)
	}
	if window.HasNext() {
		fmt.Printf("Next: --page %d\n", window.Page+1)
	}
	printCacheLine(fetcher.Status().Stats)
	return nil
}
