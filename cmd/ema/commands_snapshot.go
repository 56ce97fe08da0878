package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/ema/internal/server"
)

func buildSnapshotCmd() *cobra.Command {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Dump or restore the document store",
	}
	snapshotCmd.AddCommand(
		&cobra.Command{
			Use:   "create <file>",
			Short: "Write a point-in-time dump of every collection",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withServer(func(ctx context.Context, srv *server.Server) error {
					if err := srv.Snapshot(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "restore <file>",
			Short: "Replace every collection with a snapshot's contents",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withServer(func(ctx context.Context, srv *server.Server) error {
					if err := srv.Restore(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "snapshot restored from %s\n", args[0])
					return nil
				})
			},
		},
	)
	return snapshotCmd
}

// withServer builds a server (without starting the scheduler or HTTP
// surface), runs fn against it, and tears it down.
func withServer(fn func(ctx context.Context, srv *server.Server) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close(ctx)
	return fn(ctx, srv)
}
