// @title           Coven Daemon API
// @version         1.0.0
// @description     API for the Coven daemon that orchestrates AI agents and workflows
// @termsOfService  http://swagger.io/terms/
// @contact.name    API Support
// @license.name    MIT
// @host            localhost
// @schemes         http
// @BasePath        /
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/brmatola/coven/internal/daemon"
)

var version = "dev"

func main() {
	cmd := newRootCmd()
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "covend",
		Short: "coven's per-workspace agent orchestration daemon",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newStatusCmd())

	return root
}

func newServeCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the daemon for a workspace, blocking until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				return fmt.Errorf("--workspace is required")
			}

			d, err := daemon.New(workspace, version)
			if err != nil {
				return err
			}

			return d.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "path to the workspace directory")
	_ = cmd.MarkFlagRequired("workspace")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the covend version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("covend version %s\n", version)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "query a running daemon's health over its Unix socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				return fmt.Errorf("--workspace is required")
			}

			socketPath := filepath.Join(workspace, ".coven", "covend.sock")
			client := &http.Client{
				Timeout: 5 * time.Second,
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
						var d net.Dialer
						return d.DialContext(ctx, "unix", socketPath)
					},
				},
			}

			resp, err := client.Get("http://unix/health")
			if err != nil {
				return fmt.Errorf("no daemon reachable at %s: %w", socketPath, err)
			}
			defer resp.Body.Close()

			var health map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
				return fmt.Errorf("failed to decode health response: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(health)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "path to the workspace directory")
	_ = cmd.MarkFlagRequired("workspace")

	return cmd
}
