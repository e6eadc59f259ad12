package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "백엔드 상태 확인",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		health, err := newHealthBackend(cfg, log).Health(ctx, staticToken())
		if err != nil {
			return fmt.Errorf("backend unreachable at %s: %w", cfg.API.BaseURL, err)
		}

		fmt.Printf("✅ Backend %s: %s\n", cfg.API.BaseURL, health.Status)
		for k, v := range health.Details {
			fmt.Printf("   %s: %v\n", k, v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
