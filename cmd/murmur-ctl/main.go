package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/ipc"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		socket  string
		timeout time.Duration
	)

	root := &cobra.Command{
		Use:           "murmur-ctl",
		Short:         "Control a running murmur daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&socket, "socket", "s", ipc.DefaultSocket, "Control socket path")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Reply timeout")

	send := func(cmd *cobra.Command, name string) (ipc.Reply, error) {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		reply, err := ipc.SendCommand(ctx, socket, name)
		if err != nil {
			return ipc.Reply{}, fmt.Errorf("murmur not running: %w", err)
		}
		if !reply.OK {
			return reply, errors.New(reply.Error)
		}
		return reply, nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the daemon",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := send(cmd, ipc.CmdStop); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stopping")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the pipeline state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				reply, err := send(cmd, ipc.CmdStatus)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply.State)
				return nil
			},
		},
		&cobra.Command{
			Use:   "plugins",
			Short: "List registered plugins",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				reply, err := send(cmd, ipc.CmdPlugins)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), formatPlugins(reply.Plugins))
				return nil
			},
		},
	)

	return root
}

func formatPlugins(list []ipc.PluginInfo) string {
	var b strings.Builder
	for _, p := range list {
		fmt.Fprintf(&b, "%-16s %-20s", p.Name, p.Runtime)
		if p.Description != "" {
			b.WriteString(" " + p.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
