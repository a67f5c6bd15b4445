package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetingest/internal/config"
	"github.com/JonMunkholm/sheetingest/internal/core"
	"github.com/JonMunkholm/sheetingest/internal/database"
	"github.com/JonMunkholm/sheetingest/internal/logging"
)

var (
	envFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "sheetctl",
	Short: "Analyze and ingest spreadsheet workbooks",
	Long: `sheetctl detects header rows in xlsx and csv workbooks and stores their
records in PostgreSQL, as JSON rows or as one typed table per sheet.

"analyze" works offline. The other commands read DATABASE_URL and the
INGEST_* and LAYOUT_* settings from the environment or the --env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnv(envFile); err != nil {
			return err
		}
		logging.Setup(logLevel, logFormat)
		return nil
	},
}

// loadEnv lets the env file win over variables already set in the shell,
// the same way the server loads .env.
func loadEnv(path string) error {
	if path == "" {
		_ = godotenv.Overload()
		return nil
	}
	if err := godotenv.Overload(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(analyzeCmd, ingestCmd, reprocessCmd, templatesCmd)
}

// openService loads the configuration and connects a service. The caller
// closes the pool.
func openService(ctx context.Context) (*core.Service, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	opts, err := core.OptionsFromConfig(cfg)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return core.NewService(pool, opts, nil), pool, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
