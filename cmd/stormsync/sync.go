package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cubelabs/stormsync/internal/journal"
	"github.com/cubelabs/stormsync/internal/updater"
)

var (
	checkSince     int64
	buildTimestamp int64
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check for a delta update and apply it",
	Long:  "Check the server for content changed since the local bundle's manifest timestamp, then download, verify and deploy the delta.",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Download the latest full bundle",
	Args:  cobra.NoArgs,
	RunE:  runBundle,
}

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download and deploy a bundle archive from a direct URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	checkCmd.Flags().Int64Var(&checkSince, "since", 0,
		"Manifest timestamp to check from (default: read from local content)")
	bundleCmd.Flags().Int64Var(&buildTimestamp, "build-timestamp", 0,
		"Build timestamp for landmark-compatible bundle selection")
}

func runCheck(cmd *cobra.Command, args []string) error {
	return withManager(func(ctx context.Context, manager updater.Manager) *updater.Request {
		if checkSince > 0 {
			return manager.CheckForUpdates(ctx, checkSince)
		}
		return manager.CheckForUpdatesToLocalContent(ctx)
	}, cmd)
}

func runBundle(cmd *cobra.Command, args []string) error {
	return withManager(func(ctx context.Context, manager updater.Manager) *updater.Request {
		return manager.CheckForBundle(ctx, buildTimestamp)
	}, cmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	endpoint := args[0]
	return withManager(func(ctx context.Context, manager updater.Manager) *updater.Request {
		return manager.DownloadUpdates(ctx, endpoint)
	}, cmd)
}

// withManager wires the manager stack, starts one request and renders its
// progress stream until it terminates.
func withManager(start func(ctx context.Context, manager updater.Manager) *updater.Request, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, jnl, err := buildManager(cfg)
	if err != nil {
		return err
	}
	defer closeJournal(jnl)

	ctx := cmd.Context()
	req := start(ctx, manager)
	renderProgress(cmd, req)
	return req.Wait(ctx)
}

func renderProgress(cmd *cobra.Command, req *updater.Request) {
	out := cmd.OutOrStdout()
	var lastPhase updater.Phase
	for p := range req.Subscribe() {
		if p.Phase == lastPhase && p.Phase != updater.PhaseDownloading {
			continue
		}
		switch p.Phase {
		case updater.PhaseDownloading:
			if p.BytesTotal > 0 {
				fmt.Fprintf(out, "downloading %d/%d bytes\n", p.Bytes, p.BytesTotal)
			} else if p.Phase != lastPhase {
				fmt.Fprintln(out, "downloading")
			}
		case updater.PhaseCompleted:
			fmt.Fprintln(out, "completed")
		case updater.PhaseFailed:
			fmt.Fprintf(out, "failed: %v\n", p.Err)
		default:
			fmt.Fprintln(out, p.Phase.String())
		}
		lastPhase = p.Phase
	}
}

func closeJournal(jnl *journal.Journal) {
	if err := jnl.Close(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "warning: journal close:", err)
	}
}
