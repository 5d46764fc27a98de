// Package cmd holds the command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stevemurr/json-db-serve/handler"
	"github.com/stevemurr/json-db-serve/logging"
	"github.com/stevemurr/json-db-serve/server"
)

const (
	Version = "1.0.0"
)

// NewRootCmd builds the json-db-serve command. run is called with the
// resolved configuration; nil means start the server.
func NewRootCmd(run func(cmd *cobra.Command, cfg server.Config, logLevel string) error) *cobra.Command {
	if run == nil {
		run = serve
	}

	var (
		cfg      server.Config
		origins  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "json-db-serve",
		Short: "REST server over a single JSON file",
		Long: fmt.Sprintf(`json-db-serve (v%s)

Serves every top-level key of a JSON file as a collection:

  GET    /{collection}        list items
  GET    /{collection}/{id}   get one item
  POST   /{collection}        append an item (id assigned if missing)
  PATCH  /{collection}/{id}   merge fields into an item
  DELETE /{collection}/{id}   remove an item`, Version),
		Example:       "  json-db-serve --db ./db.json --port 3000 --host 0.0.0.0",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Port < 0 || cfg.Port > 65535 {
				return fmt.Errorf("invalid port %d", cfg.Port)
			}
			abs, err := filepath.Abs(cfg.DBPath)
			if err != nil {
				return err
			}
			cfg.DBPath = abs
			cfg.CORSOrigins = splitList(origins)
			return run(cmd, cfg, logLevel)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.DBPath, "db", "./db.json", "Path to db.json")
	flags.IntVar(&cfg.Port, "port", 3000, "Port")
	flags.StringVar(&cfg.Host, "host", "0.0.0.0", "Host")
	flags.StringVar(&cfg.Backend, "backend", "json", "Storage backend (json, sqlite, memory)")
	flags.StringVar(&origins, "cors-origin", "*", "Comma-separated list of allowed CORS origins")
	flags.Int64Var(&cfg.BodyLimit, "body-limit", handler.DefaultBodyLimit, "Maximum request body size in bytes")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return rootCmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func serve(cmd *cobra.Command, cfg server.Config, logLevel string) error {
	logger, err := logging.New(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCmd(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
