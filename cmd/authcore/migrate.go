package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/authcore/internal/config"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	"github.com/dropDatabas3/authcore/internal/store"
)

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones pendientes del storage configurado",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			log := logger.L().With(logger.Op("migrate"), logger.String("driver", cfg.Storage.Driver))

			st, err := store.Open(ctx, cfg.Storage.Driver, store.AdapterConfig{
				DSN:          cfg.Storage.DSN,
				MaxOpenConns: cfg.Storage.MaxOpenConns,
				MaxIdleConns: cfg.Storage.MaxIdleConns,
			})
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := store.Migrate(ctx, st)
			if err != nil {
				return err
			}
			log.Info("migrations done",
				logger.Any("applied", res.Applied),
				logger.Any("skipped", res.Skipped),
				logger.Duration(res.Duration))
			fmt.Fprintf(cmd.OutOrStdout(), "applied=%d skipped=%d\n", len(res.Applied), len(res.Skipped))
			return nil
		},
	}
}
