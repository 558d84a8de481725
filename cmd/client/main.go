package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"huddle/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := app.ClientConfig{}
	root := &cobra.Command{
		Use:          "huddle [group-id...]",
		Short:        "Watch who is online in your Huddle groups",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := app.ParseGroupIDs(args)
			if err != nil {
				return err
			}
			cfg.Groups = append(cfg.Groups, groups...)
			return app.RunClient(cfg)
		},
	}
	root.Flags().StringVar(&cfg.ServerURL, "server", envOrDefault("HUDDLE_SERVER", "ws://localhost:8080/ws"), "websocket URL of the server")
	root.Flags().StringVar(&cfg.Username, "user", os.Getenv("HUDDLE_USER"), "default username for login prompts")
	return root
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
