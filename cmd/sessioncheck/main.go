// sessioncheck asks the backend whether the configured session token is
// still valid. Exits 1 when it is not.
// Usage: sessioncheck -config configs/meshlink.example.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rickgao/meshlink/internal/api"
	"github.com/rickgao/meshlink/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/meshlink.example.yaml", "path to config file")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.API.BaseURL == "" {
		log.Fatalf("api.base_url is not set and cannot be derived from session.url")
	}

	opts := []api.ClientOption{api.WithTimeout(*timeout)}
	if src := cfg.TokenSource(); src != nil {
		opts = append(opts, api.WithTokenSource(src))
	}
	client := api.NewClient(cfg.API.BaseURL, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("=== Checking session at %s%s ===\n", cfg.API.BaseURL, api.SessionPath)
	ok, err := client.CheckSession(ctx)
	if err != nil {
		log.Fatalf("CheckSession failed: %v", err)
	}

	if !ok {
		fmt.Println("Session: rejected")
		os.Exit(1)
	}
	fmt.Println("Session: valid")
}
