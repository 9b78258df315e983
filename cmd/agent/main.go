// Command agent dials out to a frontend and serves local origin traffic
// tunneled over that connection.
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

	"github.com/cobaltbridge/revtunnel/internal/agent"
	"github.com/cobaltbridge/revtunnel/internal/config"
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
		Use:   "agent",
		Short: "Reverse HTTP tunnel agent: dials out, serves local origin traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("server-url", "", "frontend WebSocket URL, e.g. wss://tunnel.example.com/tunnel/ws (required)")
	flags.String("connect-id", "", "routing identifier this agent registers under (required)")
	flags.Duration("origin-timeout", 45*time.Second, "timeout for requests against the local origin")
	flags.Int64("max-body-bytes", 10<<20, "maximum origin response body size in bytes (0 = unlimited)")
	flags.StringSlice("allow-host", nil, "glob pattern of an allowed target host (repeatable); empty allows all")
	flags.String("allowlist-file", "", "optional file persisting the allowlist across restarts")
	flags.Duration("reconnect-delay", 5*time.Second, "delay between reconnect attempts")
	flags.String("admin-listen", "", "optional local bind address for the status/allowlist admin API")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-pretty", true, "use a human-readable console log writer instead of JSON")
	flags.String("config", "", "optional config file (yaml/json/toml)")

	_ = v.BindPFlags(flags)
	return cmd
}

func runAgent(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := config.LoadAgent(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New("agent", cfg.LogPretty, cfg.LogLevel)

	allowlist, err := agent.NewAllowlist(cfg.AllowlistFile, cfg.AllowHosts)
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}

	executor := agent.NewExecutor(cfg.OriginTimeout, cfg.MaxBodyBytes, allowlist)
	sup := agent.NewSupervisor(cfg.ServerURL, cfg.ConnectID, cfg.ReconnectDelay, executor, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var adminSrv *http.Server
	if cfg.AdminListen != "" {
		adminSrv = &http.Server{
			Addr:    cfg.AdminListen,
			Handler: agent.AdminMux(sup, allowlist),
		}
		go func() {
			log.Info().Str("admin_listen", cfg.AdminListen).Msg("admin API listening")
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("admin API exited")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = adminSrv.Shutdown(shutdownCtx)
		}()
	}

	log.Info().Str("server_url", cfg.ServerURL).Str("connect_id", cfg.ConnectID).Msg("agent starting")
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info().Msg("agent exited cleanly")
	return nil
}
