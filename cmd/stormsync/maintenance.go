package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cubelabs/stormsync/internal/bundle"
	"github.com/cubelabs/stormsync/internal/integrity"
	"github.com/cubelabs/stormsync/internal/journal"
)

var historyLimit int

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the live bundle against its manifest",
	Long:  "Hash every file the live manifest declares. A corrupt bundle is deleted, matching the engine's all-or-nothing integrity model; re-sync with 'stormsync bundle' afterwards.",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all cached content",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync outcomes from the journal",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	verifier := integrity.NewVerifier(slog.Default())
	ok, err := verifier.Verify(cfg.Storage.Path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bundle at %s failed verification and was removed", cfg.Storage.Path)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "bundle verified")
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := bundle.Clear(cfg.Storage.Path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "cached content cleared")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jnl, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		return err
	}
	defer closeJournal(jnl)

	entries, err := jnl.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tKIND\tRESULT\tBYTES\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.StartedAt.Format("2006-01-02 15:04:05"),
			e.Kind,
			e.Phase,
			e.Bytes,
			e.Error,
		)
	}
	return w.Flush()
}
