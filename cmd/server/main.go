package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/callstream/internal/adapters/http"
	"github.com/dkeye/callstream/internal/adapters/stream"
	"github.com/dkeye/callstream/internal/app"
	"github.com/dkeye/callstream/internal/app/orch"
	"github.com/dkeye/callstream/internal/config"
	"github.com/dkeye/callstream/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "callstream",
		Short:         "Carrier media stream session server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				log.Error().Err(err).Msg("failed to load config")
				return err
			}
			if err := setupLogger(cfg); err != nil {
				log.Error().Err(err).Msg("bad logger config")
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if err := run(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("server error")
				return err
			}
			return nil
		},
	}

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	flags.Int("port", 0, "listen port")
	flags.String("auth-token", "", "bearer token required on stream connections")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	bindFlag(v, "port", cmd, "port")
	bindFlag(v, "auth_token", cmd, "auth-token")
	bindFlag(v, "log_level", cmd, "log-level")

	return cmd
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func setupLogger(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := app.NewRegistry()
	m := metrics.New(reg.Len)
	o := &orch.Orchestrator{
		Registry: reg,
		Chunker:  app.NewChunker(cfg.ChunkSize, m),
		Metrics:  m,
	}
	ctl := stream.NewStreamController(o, cfg, m)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(cfg, o, ctl, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("stream_path", cfg.StreamPath).Msg("callstream server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// hijacked stream connections are not tracked by the server
		o.Shutdown()
		if err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
