package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"versionstore/api/internal/auth"
	"versionstore/api/internal/rbac"
	"versionstore/api/internal/store"
	"versionstore/api/internal/versioning"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == store.MemoryURL {
				return fmt.Errorf("the memory backend has no schema to migrate")
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied from %s\n", cfg.MigrationsDir)
			return nil
		},
	}
}

func newLogCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List commits of a tenant, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			commits, err := client.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), commits)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of commits")
	return cmd
}

func newHeadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Show the reconciled head of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			head, err := client.Head(cmd.Context())
			if err != nil {
				return err
			}
			out := map[string]any{"state": head.State, "commit": nil}
			if head.Commit != nil {
				out["commit"] = head.Commit.ID
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newResetHeadCmd(opts *rootOptions) *cobra.Command {
	var commitID string
	cmd := &cobra.Command{
		Use:   "reset-head",
		Short: "Move the head to a commit, or to the latest commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			commit, err := client.ResetHead(cmd.Context(), commitID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"head": commit.ID})
		},
	}
	cmd.Flags().StringVar(&commitID, "commit", "", "Target commit id (defaults to the latest commit)")
	return cmd
}

func newViewCmd(opts *rootOptions) *cobra.Command {
	var (
		commitID string
		sortRaw  string
	)
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Print the items visible at the head or at a commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sort, err := versioning.ParseSort(sortRaw)
			if err != nil {
				return err
			}
			client, closeFn, err := opts.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if commitID != "" {
				views, err := client.GetAllAtCommit(cmd.Context(), commitID, sort)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"commit": commitID, "items": views})
			}
			views, headID, err := client.GetAllLatest(cmd.Context(), sort)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"commit": headID, "items": views})
		},
	}
	cmd.Flags().StringVar(&commitID, "commit", "", "Commit id (defaults to the head)")
	cmd.Flags().StringVar(&sortRaw, "sort", "", "Sort field, prefix with - for descending")
	return cmd
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a tenant, signed with the API secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.tenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			if string(rbac.Normalize(role)) != role {
				return fmt.Errorf("unknown role %q", role)
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			claims := auth.NewClaims(subject, opts.tenant, role, ttl)
			token, err := auth.Sign(cfg.JWTSecret, claims)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"token":     token,
				"tenant":    claims.Tenant(),
				"role":      role,
				"expiresAt": claims.ExpiresAt.Time,
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "itemsctl", "Token subject")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleUser), "Role granted to the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
