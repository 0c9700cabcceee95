package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/hearth/pkg/core"
	"github.com/modoterra/hearth/pkg/transport/uds"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Publish an event to every dashboard through the daemon",
}

var notifyAppInstalledCmd = &cobra.Command{
	Use:   "app-installed <name>",
	Short: "Announce that an app finished installing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publish(cmd, core.AppInstalled{Name: args[0]})
	},
}

var uploadFailed bool

var notifyFileUploadedCmd = &cobra.Command{
	Use:   "file-uploaded <id>",
	Short: "Announce the outcome of a file upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publish(cmd, core.FileUploaded{ID: args[0], Success: !uploadFailed})
	},
}

var notifyErrorCmd = &cobra.Command{
	Use:   "error <message>",
	Short: "Announce a server-side failure",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publish(cmd, core.ErrorEvent{Message: strings.Join(args, " ")})
	},
}

func init() {
	notifyFileUploadedCmd.Flags().BoolVar(&uploadFailed, "failed", false, "report the upload as failed")
	notifyCmd.AddCommand(notifyAppInstalledCmd)
	notifyCmd.AddCommand(notifyFileUploadedCmd)
	notifyCmd.AddCommand(notifyErrorCmd)
}

func publish(cmd *cobra.Command, e core.Event) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := uds.NewHistoryClient(cfg.Socket).Publish(ctx, e)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s → %d subscriber(s) ✓\n", core.Describe(e), n)
	return nil
}
