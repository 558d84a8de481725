package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	intrnl "huddle/internal"
	"huddle/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := app.NewViper()
	var cfgFile string

	root := &cobra.Command{
		Use:           "huddle-server",
		Short:         "Presence and room coordination server for Huddle",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadServerConfig(v, cfgFile)
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handle, err := app.RunServer(ctx, cfg, logger)
			if err != nil {
				logger.Error("server failed to start", "error", err)
				return err
			}
			if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("server exited", "error", err)
				return err
			}
			return nil
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("addr", ":8080", "listen address")
	flags.String("ws-path", "/ws", "websocket path")
	flags.String("db", "", "sqlite database path (defaults to a per-user path)")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("log-format", "text", "text or json")
	flags.Duration("resolve-timeout", 0, "membership lookup timeout for presence fan-out")
	flags.Duration("token-ttl", 0, "session token lifetime")

	bindings := map[string]string{
		app.KeyAddr:           "addr",
		app.KeyWSPath:         "ws-path",
		app.KeyDBPath:         "db",
		app.KeyLogLevel:       "log-level",
		app.KeyLogFormat:      "log-format",
		app.KeyResolveTimeout: "resolve-timeout",
		app.KeyTokenTTL:       "token-ttl",
	}
	for key, flag := range bindings {
		cobra.CheckErr(v.BindPFlag(key, flags.Lookup(flag)))
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), intrnl.Version)
		},
	})
	return root
}
