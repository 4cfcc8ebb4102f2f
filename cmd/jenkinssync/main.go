// Package main is the entry point for the jenkinssync daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrayang/jenkins-build-downloader/internal/app"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "jenkinssync",
	Short: "Continuously mirrors the newest successful Jenkins build artifacts",
	Long: `jenkinssync watches a fixed set of Jenkins platform folders, discovers
their sub-jobs on every sweep and downloads the artifacts of each job's last
successful build into a local directory tree.

Credentials are read from JENKINS_URL, JENKINS_USER and JENKINS_TOKEN
(a .env file next to the binary is also honored).`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return app.New(cfgPath).Run(ctx)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the last synchronized build number per platform job",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.New(cfgPath).Status(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yml", "path to config file")
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
