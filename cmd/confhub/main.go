package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confhub/internal/client"
)

var (
	serverURL  string
	authToken  string
	jsonOutput bool
	actor      string

	confClient client.ConfigClient
)

func defaultActor() string {
	if s := os.Getenv("CONFHUB_ACTOR"); s != "" {
		return s
	}
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		name := strings.TrimSpace(string(out))
		if name != "" {
			return name
		}
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func defaultServerURL() string {
	if s := os.Getenv("CONFHUB_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("CONFHUB_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

var rootCmd = &cobra.Command{
	Use:           "confhub <command>",
	Short:         "Configuration center: namespaced, versioned, encrypted config",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if serverURL == "" {
			return fmt.Errorf("no server URL; pass --url or run 'confhub remote use <name>'")
		}
		confClient = client.NewHTTPClient(serverURL, authToken, actor)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if confClient != nil {
			confClient.Close()
		}
	},
}

// noClient skips client construction for commands that work offline.
func noClient(cmd *cobra.Command, args []string) error { return nil }

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "confhub server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "actor recorded on history entries")

	rootCmd.AddGroup(
		&cobra.Group{ID: "configs", Title: "Configs:"},
		&cobra.Group{ID: "namespaces", Title: "Namespaces:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Configs
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(metaCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(batchGetCmd)
	rootCmd.AddCommand(importCmd)

	// Namespaces
	rootCmd.AddCommand(nsCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
