// Command frontend runs the public-facing half of the tunnel: the agent
// WebSocket control endpoint and the HTTP dispatcher.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cobaltbridge/revtunnel/internal/config"
	"github.com/cobaltbridge/revtunnel/internal/frontend"
	"github.com/cobaltbridge/revtunnel/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "frontend",
		Short: "Reverse HTTP tunnel frontend: public ingress + agent registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrontend(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "127.0.0.1:3000", "bind address for public HTTP and agent control traffic")
	flags.Duration("request-timeout", 30*time.Second, "per-request timeout while awaiting an agent response")
	flags.Int64("max-body-bytes", 10<<20, "maximum request/response body size in bytes (0 = unlimited)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-pretty", true, "use a human-readable console log writer instead of JSON")
	flags.String("config", "", "optional config file (yaml/json/toml)")

	_ = v.BindPFlags(flags)
	return cmd
}

func runFrontend(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := config.LoadFrontend(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New("frontend", cfg.LogPretty, cfg.LogLevel)

	srv := frontend.New(cfg.RequestTimeout, cfg.MaxBodyBytes, log)

	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Mux(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info().Msg("shutdown signal received, draining in-flight requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", cfg.Listen).Msg("frontend listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-shutdownDone
	log.Info().Msg("frontend exited cleanly")
	return nil
}
