package config_test

import (
	"fmt"

	"github.com/wonny/magicformula/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	fmt.Printf("Dashboard listening on port: %s\n", cfg.Port)
	fmt.Printf("Backend API: %s\n", cfg.API.BaseURL)
	fmt.Printf("Identity realm: %s\n", cfg.Identity.Realm)
	fmt.Printf("Session init timeout: %v\n", cfg.Session.InitTimeout)
}
