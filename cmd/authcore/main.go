package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/authcore/internal/config"
	"github.com/dropDatabas3/authcore/internal/observability/logger"

	// Registra los adapters via init()
	_ "github.com/dropDatabas3/authcore/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/authcore/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/authcore/internal/store/adapters/sqlite"
)

var version = "dev"

func main() {
	// .env es opcional; el entorno real manda.
	_ = godotenv.Load()

	configPath := envOr("CONFIG_PATH", "")

	root := &cobra.Command{
		Use:           "authcore",
		Short:         "Core de autenticación multi-aplicación",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "Archivo YAML de configuración (env CONFIG_PATH)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config inválida:\n%w", err)
		}
		logger.Init(logger.Config{
			Env:         cfg.App.Env,
			Level:       cfg.Log.Level,
			ServiceName: "authcore",
			Version:     version,
		})
		return cfg, nil
	}

	root.AddCommand(newServeCmd(load), newMigrateCmd(load), newKeysCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
