// Command encrypt-credentials seals plaintext VC tokens and webhook secrets already in the database.
//
// Usage:
//
//	APP_ENCRYPTION_KEY="$(openssl rand -hex 32)" APP_ENCRYPTION_KEY_FORMAT=hex go run ./cmd/encrypt-credentials -dry-run
//
// Database settings are read from the same DB_* environment variables as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/openctemio/scangate/internal/config"
	"github.com/openctemio/scangate/internal/infra/postgres"
	"github.com/openctemio/scangate/pkg/crypto"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Count plaintext credentials without changing them")
	flag.Parse()

	if err := run(*dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dryRun bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if !cfg.Encryption.IsConfigured() {
		return fmt.Errorf("APP_ENCRYPTION_KEY is required; generate one with: openssl rand -hex 32")
	}

	enc, err := crypto.NewEncryptor(cfg.Encryption.Key, cfg.Encryption.KeyFormat)
	if err != nil {
		return err
	}

	db, err := postgres.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if dryRun {
		fmt.Println("=== DRY RUN MODE - No changes will be made ===")
	}

	tokens, secrets, err := postgres.NewVCSRepository(db, enc).SealCredentials(ctx, dryRun)
	if err != nil {
		return err
	}

	fmt.Println("=== Summary ===")
	fmt.Printf("VC tokens:       %d\n", tokens)
	fmt.Printf("Webhook secrets: %d\n", secrets)
	if dryRun {
		fmt.Println("Dry run complete. Run without -dry-run to apply changes.")
	}
	return nil
}
