package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xscopehub/pgmcp/internal/config"
	"github.com/xscopehub/pgmcp/internal/gateway"
	"github.com/xscopehub/pgmcp/internal/resource"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the database connection and list visible tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			base, err := resource.BaseURL(cfg.Database.URL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Database.ConnectTimeout+5*time.Second)
			defer cancel()

			gw, err := gateway.Open(ctx, gateway.Config{URL: cfg.Database.URL, ConnectTimeout: cfg.Database.ConnectTimeout}, gateway.Options{})
			if err != nil {
				return err
			}
			defer gw.Close(context.Background())

			tables, err := gw.ListTables(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s: %d tables in public schema\n", base, len(tables))
			for _, t := range tables {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", resource.Encode(base, t))
			}
			return nil
		},
	}
}
