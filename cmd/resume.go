package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/govizier/internal/policy"
)

var resumeCount int

var resumeCmd = &cobra.Command{
	Use:   "resume [study-guid]",
	Short: "Resume a study's designer from its checkpoint",
	Long: `Restores the designer of a study from the checkpoint committed in the
local store (--store, --store-path), runs one suggestion cycle and prints the
new trials. The trials and the advanced checkpoint are written back.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().IntVar(&resumeCount, "count", 1, "Number of trials to suggest")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	guid := args[0]
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	cfg, err := st.GetStudyConfig(ctx, guid)
	if err != nil {
		return fmt.Errorf("failed to load study: %w", err)
	}
	cp, ok, err := policy.LoadCheckpoint(cfg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if ok {
		slog.Info("Resuming from checkpoint", "study_guid", guid, "algorithm", cp.Algorithm, "seen", len(cp.Seen))
	} else {
		slog.Info("No checkpoint committed, starting a fresh designer", "study_guid", guid)
	}

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	trials, err := policy.NewSupporter(guid, st, registry).SuggestTrials(ctx, resumeCount)
	if err != nil {
		return fmt.Errorf("suggestion failed: %w", err)
	}
	printTrials(os.Stdout, trials)
	return nil
}
