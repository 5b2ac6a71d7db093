package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"versionstore/api/internal/config"
	"versionstore/api/internal/store"
	"versionstore/api/internal/versioning"
)

// openBackend is replaced in tests.
var openBackend = func(ctx context.Context, cfg config.Config) (store.Backend, func(), error) {
	backend, db, err := store.OpenBackend(ctx, cfg.DatabaseURL, cfg.MigrationsDir)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {}
	if db != nil {
		closeFn = func() { _ = db.Close() }
	}
	return backend, closeFn, nil
}

type rootOptions struct {
	databaseURL string
	tenant      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "itemsctl",
		Short:         "Inspect and repair versioned item stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "Database URL (defaults to DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.tenant, "tenant", "", "Tenant to operate on")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newLogCmd(opts),
		newHeadCmd(opts),
		newResetHeadCmd(opts),
		newViewCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (o *rootOptions) config() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	return cfg, nil
}

// client opens the store and returns the tenant handle. The caller runs
// the returned close function when done.
func (o *rootOptions) client(ctx context.Context) (*versioning.Client, func(), error) {
	if o.tenant == "" {
		return nil, nil, fmt.Errorf("--tenant is required")
	}
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	backend, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	engine := versioning.NewEngine(backend, versioning.Options{
		MaxCascadeDepth:  cfg.CascadeMaxDepth,
		BatchConcurrency: cfg.BatchConcurrency,
	})
	client, err := engine.Tenant(o.tenant)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return client, closeFn, nil
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
