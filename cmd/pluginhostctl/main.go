// Command pluginhostctl loads, supervises, and dispatches calls to
// plugins under a plugins directory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/goatkit/pluginhost/internal/plugin"
	"github.com/goatkit/pluginhost/internal/plugin/hostconfig"
	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "pluginhostctl",
		Short:         "Load and supervise sandboxed and trusted plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "pluginhost.yaml", "path to host config file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newStatusCommand(&configPath))
	root.AddCommand(newCallCommand(&configPath))
	return root
}

func loadManager(configPath string, services pkgplugin.Services) (*plugin.Manager, error) {
	cfg, err := hostconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	mgr := plugin.NewManager(cfg, services)
	if err := mgr.LoadAll(context.Background()); err != nil {
		return nil, err
	}
	return mgr, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load every plugin and watch for source changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadManager(*configPath, pkgplugin.Services{})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := mgr.Watch(ctx); err != nil {
				return err
			}
			fmt.Println("pluginhostctl: serving, press Ctrl+C to stop")
			<-ctx.Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return mgr.Shutdown(shutdownCtx)
		},
	}
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every discovered plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadManager(*configPath, pkgplugin.Services{})
			if err != nil {
				return err
			}
			for _, s := range mgr.Status() {
				fmt.Printf("%-20s %-8s %-10s %s\n", s.Name, s.Version, s.State, s.FailReason)
			}
			return nil
		},
	}
}

func newCallCommand(configPath *string) *cobra.Command {
	var payloadJSON string

	cmd := &cobra.Command{
		Use:   "call <plugin> <action>",
		Short: "Load every plugin and invoke one action on one of them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("parsing --payload: %w", err)
				}
			}

			mgr, err := loadManager(*configPath, pkgplugin.Services{})
			if err != nil {
				return err
			}
			out, err := mgr.Call(context.Background(), args[0], args[1], payload)
			if err != nil {
				return err
			}
			enc, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(enc))
			return nil
		},
	}
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "JSON object passed as the call payload")
	return cmd
}
