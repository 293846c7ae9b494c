// Package main provides the entry point for the Vicinus proximity query service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/vicinus/internal/app"
	"github.com/jobrunner/vicinus/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vicinus",
	Short: "Vicinus - natural-language proximity queries over vector layers",
	Long: `Vicinus answers plain-language proximity questions such as
"Which schools are within 1 mile of a pipeline?" against a catalog of
vector layers.

Features:
  - Question interpretation through a function-calling language model
  - Buffer containment analysis on GeoPackage, GeoJSON and shapefile layers
  - GeoJSON results with the analysis buffer for display
  - Multiple storage backends (local, AWS S3, Azure, HTTP)
  - Hot-reload of datasets
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Vicinus %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Print the layer catalog",
	Args:  cobra.NoArgs,
	RunE:  runLayers,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a single question and print the JSON response",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "json", "log format (json, text)")

	// Storage and oracle flags apply to every command that loads the catalog.
	pf.String("storage-type", "local", "storage type (local, s3, azure, http)")
	pf.String("storage-path", "./data", "local dataset path")
	pf.String("oracle-provider", "anthropic", "oracle provider (anthropic, none)")
	pf.String("oracle-model", "claude-sonnet-4-5-20250929", "oracle model name")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("storage.type", pf.Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", pf.Lookup("storage-path"))
	_ = viper.BindPFlag("oracle.provider", pf.Lookup("oracle-provider"))
	_ = viper.BindPFlag("oracle.model", pf.Lookup("oracle-model"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", rootCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", rootCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	rootCmd.AddCommand(versionCmd, layersCmd, askCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting Vicinus",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
		"oracle_provider", cfg.Oracle.Provider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// loadApp builds the application and its catalog without serving. Logs go
// to stderr so stdout carries only command output.
func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// One-shot commands do not serve metrics or certificates.
	cfg.Metrics.Enabled = false
	cfg.TLS.Enabled = false
	cfg.Storage.Watch = false

	logger := setupLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	if err := application.LoadCatalog(ctx); err != nil {
		_ = application.Registry.Close()
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return application, nil
}

func runLayers(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	application, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Registry.Close() }()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tGEOMETRY\tFEATURES\tDESCRIPTION")
	for _, l := range application.Registry.ListLayers(ctx) {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", l.Name, l.Kind, l.FeatureCount, l.Description)
	}
	return w.Flush()
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = application.Registry.Close() }()

	resp := application.ChatService.HandleQuery(ctx, strings.Join(args, " "))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
