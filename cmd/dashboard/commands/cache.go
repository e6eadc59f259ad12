package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/magicformula/internal/backend"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "백엔드 캐시 관리",
	Long: `Reads and manages the backend's result cache.

Example:
  go run ./cmd/dashboard cache stats
  go run ./cmd/dashboard cache warm 2024
  go run ./cmd/dashboard cache invalidate 2023
  go run ./cmd/dashboard cache invalidate --all`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		admin, ctx, cancel, err := newAdmin(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		stats, err := admin.Stats(ctx)
		if err != nil {
			return err
		}

		printCacheLine(stats)
		renderStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

var cacheWarmCmd = &cobra.Command{
	Use:   "warm <year>",
	Short: "Pre-compute a year in the background",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid year %q", args[0])
		}

		admin, ctx, cancel, err := newAdmin(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		res, err := admin.Warm(ctx, year)
		if err != nil {
			return err
		}

		fmt.Printf("✅ Cache warming started for %d\n", year)
		if res.Message != "" {
			fmt.Printf("   %s\n", res.Message)
		}
		if res.EstimatedTime != "" {
			fmt.Printf("   Estimated time: %s\n", res.EstimatedTime)
		}
		return nil
	},
}

var invalidateAll bool

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [year]",
	Short: "Drop cached results for a year, or all with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !invalidateAll {
			return fmt.Errorf("give a year or --all")
		}

		admin, ctx, cancel, err := newAdmin(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		if len(args) == 0 {
			if err := admin.InvalidateAll(ctx); err != nil {
				return err
			}
			fmt.Println("✅ Cache cleared")
			return nil
		}

		year, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid year %q", args[0])
		}
		if err := admin.Invalidate(ctx, year); err != nil {
			return err
		}
		fmt.Printf("✅ Cache cleared for %d\n", year)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheWarmCmd, cacheInvalidateCmd)

	cacheInvalidateCmd.Flags().BoolVar(&invalidateAll, "all", false, "invalidate every cached period")
}

// newAdmin builds a cache admin client and a context bounded by API_TIMEOUT
func newAdmin(cmd *cobra.Command) (*backend.AdminClient, context.Context, context.CancelFunc, error) {
	cfg, log, err := bootstrap()
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
	return backend.NewAdminClient(newBackend(cfg, log), staticToken), ctx, cancel, nil
}
