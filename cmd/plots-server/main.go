// Package main provides the plots server entry point: the plot lifecycle,
// harvest ledger and reporting API over a single database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

// settings are the process-level options. Domain tunables (rest days,
// proposal TTL, cache, audit, HA) are read by their packages from PLOTS_*
// environment variables; flags here override the few that matter at startup.
type settings struct {
	Listen        string
	DBType        string
	DBDSN         string
	LogFormat     string
	LogLevel      string
	CropsFile     string
	ProposalStore string
	DBDebug       bool
}

func loadSettings(v *viper.Viper) settings {
	return settings{
		Listen:        v.GetString("listen"),
		DBType:        v.GetString("db-type"),
		DBDSN:         v.GetString("db-dsn"),
		LogFormat:     v.GetString("log-format"),
		LogLevel:      v.GetString("log-level"),
		CropsFile:     v.GetString("crops-file"),
		ProposalStore: v.GetString("proposal-store"),
		DBDebug:       v.GetBool("db-debug"),
	}
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile, envFile string

	root := &cobra.Command{
		Use:   "plots-server",
		Short: "Plot lifecycle and harvest ledger server",
		Long: `plots-server serves the plots API: the plot lifecycle with
propose/confirm transitions, the harvest ledger with its rest-period gate,
and the company reports.

Every flag can also be set through a PLOTS_ environment variable
(--db-dsn is PLOTS_DB_DSN), a .env file or a YAML config file.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil {
				if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("env-file") {
					return fmt.Errorf("loading env file %s: %w", envFile, err)
				}
			}
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config %s: %w", configFile, err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(loadSettings(v))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "YAML config file")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.String("listen", ":8080", "Address to listen on")
	pf.String("db-type", "sqlite", "Database type: sqlite, postgres or mysql")
	pf.String("db-dsn", "", "Database connection string")
	pf.Bool("db-debug", false, "Log every SQL statement")
	pf.String("log-format", "text", "Log format: text or json")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	pf.String("crops-file", "", "Crop catalog YAML, reloaded on change")
	pf.String("proposal-store", "", "Proposal backend: memory, db or dynamodb")

	v.SetEnvPrefix("PLOTS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(pf); err != nil {
		glog.Fatalf("Failed to bind flags: %v", err)
	}

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings(v)
			logger := newLogger(s.LogFormat, s.LogLevel)
			db, err := setupDatabase(s.DBType, s.DBDSN, s.DBDebug)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), db, s, logger)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "load-crops FILE",
		Short: "Load a crop catalog YAML into the database and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings(v)
			logger := newLogger(s.LogFormat, s.LogLevel)
			db, err := setupDatabase(s.DBType, s.DBDSN, s.DBDebug)
			if err != nil {
				return err
			}
			if err := migrate(cmd.Context(), db, s, logger); err != nil {
				return err
			}
			n, err := loadCrops(db, args[0], logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d crops from %s\n", n, args[0])
			return nil
		},
	})

	return root
}

func serve(s settings) error {
	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	logger := newLogger(s.LogFormat, s.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting plots server",
		"version", version,
		"listen", s.Listen,
		"dbType", s.DBType,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := setupDatabase(s.DBType, s.DBDSN, s.DBDebug)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	srv, err := newServer(ctx, db, s, logger)
	if err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}
	return srv.run(ctx)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
