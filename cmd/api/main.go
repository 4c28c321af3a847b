package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/emohandesi/OutlineKeyGenerator/internal/api"
	"github.com/emohandesi/OutlineKeyGenerator/internal/config"
	"github.com/emohandesi/OutlineKeyGenerator/internal/domain"
	"github.com/emohandesi/OutlineKeyGenerator/internal/persistence/sqlite"
	httptransport "github.com/emohandesi/OutlineKeyGenerator/internal/transport/http"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		host   string
		port   int
		dbPath string
		debug  bool
	)

	cmd := &cobra.Command{
		Use:           "usercounter",
		Short:         "HTTP service that assigns anonymous client tokens and counts active users",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("host") || cmd.Flags().Changed("port") {
				cfg.HTTPAddress = net.JoinHostPort(host, strconv.Itoa(port))
			}
			if cmd.Flags().Changed("db") {
				cfg.DatabasePath = dbPath
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "host to bind to")
	cmd.Flags().IntVar(&port, "port", 5000, "port to bind to")
	cmd.Flags().StringVar(&dbPath, "db", "user_tracking.db", "path to the SQLite database")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}

func run(cfg config.Config) error {
	logger := newLogger(cfg.Debug)

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open activity store: %w", err)
	}
	defer store.Close()

	tracker := domain.NewTracker(store, domain.WithLogger(logger))
	handler := api.NewHandler(tracker, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	chain := api.Recoverer(logger)(api.RequestLogger(logger)(mux))

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address: cfg.HTTPAddress,
	}, chain)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", cfg.HTTPAddress).
			Str("database", cfg.DatabasePath).
			Msg("user counter service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-shutdownCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}

func newLogger(debug bool) zerolog.Logger {
	if debug {
		return zerolog.New(zerolog.NewConsoleWriter()).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
}
