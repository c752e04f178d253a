package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/govizier/internal/policy"
	"github.com/cwbudde/govizier/internal/store"
)

var (
	keepLast      int
	olderThanDays int
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect designer checkpoints",
	Long: `Inspect the designer checkpoints committed in a local store.
A checkpoint lets any server resume a study's designer where it stopped.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List committed checkpoints",
	Long:  `Display every study with a committed checkpoint: algorithm, trials fed to the designer, trial count and checkpoint size.`,
	RunE:  runListCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(listCheckpointsCmd)

	listCheckpointsCmd.Flags().IntVar(&keepLast, "last", 0, "Show only the N most recently created studies (0 = all)")
	listCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Show only studies older than N days (0 = no age limit)")
}

// checkpointInfo summarizes one study's committed policy state.
type checkpointInfo struct {
	StudyGUID string
	Name      string
	Algorithm string
	Seen      int
	Trials    int
	Size      int
	Created   time.Time
	Err       error
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if cmd != nil {
		ctx = cmd.Context()
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := collectCheckpoints(ctx, st)
	if err != nil {
		return err
	}
	infos = selectCheckpoints(infos, keepLast, olderThanDays, time.Now())
	printCheckpoints(os.Stdout, infos)
	return nil
}

// collectCheckpoints reads the checkpoint of every study that has one.
// Undecodable checkpoints are reported, not skipped.
func collectCheckpoints(ctx context.Context, st store.Store) ([]checkpointInfo, error) {
	studies, err := st.ListStudies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}

	var infos []checkpointInfo
	for _, s := range studies {
		raw, present := s.Config.Metadata.Get(policy.MetadataNamespace, policy.KeyCheckpoint)
		if !present {
			continue
		}
		info := checkpointInfo{
			StudyGUID: s.GUID,
			Name:      s.DisplayName,
			Size:      len(raw),
			Created:   s.CreationTime,
		}
		cp, err := policy.DecodeCheckpoint(raw)
		if err != nil {
			slog.Warn("Undecodable checkpoint", "study_guid", s.GUID, "error", err)
			info.Err = err
		} else {
			info.Algorithm = cp.Algorithm
			info.Seen = len(cp.Seen)
		}
		trials, err := st.GetTrials(ctx, s.GUID, store.TrialFilter{})
		if err != nil {
			return nil, fmt.Errorf("failed to read trials of %s: %w", s.GUID, err)
		}
		info.Trials = len(trials)
		infos = append(infos, info)
	}
	return infos, nil
}

// selectCheckpoints applies the age filter, then keeps the keepLast most
// recently created entries. The result is ordered newest first.
func selectCheckpoints(infos []checkpointInfo, keepLast, olderThanDays int, now time.Time) []checkpointInfo {
	var selected []checkpointInfo
	cutoff := now.AddDate(0, 0, -olderThanDays)
	for _, info := range infos {
		if olderThanDays > 0 && !info.Created.Before(cutoff) {
			continue
		}
		selected = append(selected, info)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Created.After(selected[j].Created)
	})
	if keepLast > 0 && len(selected) > keepLast {
		selected = selected[:keepLast]
	}
	return selected
}

func printCheckpoints(out io.Writer, infos []checkpointInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDY\tNAME\tALGORITHM\tSEEN\tTRIALS\tSIZE\tCREATED")
	fmt.Fprintln(w, "-----\t----\t---------\t----\t------\t----\t-------")
	for _, info := range infos {
		displayID := info.StudyGUID
		if len(displayID) > 12 {
			displayID = displayID[:12] + "..."
		}
		algorithm := info.Algorithm
		if info.Err != nil {
			algorithm = "CORRUPT"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			displayID,
			info.Name,
			algorithm,
			info.Seen,
			info.Trials,
			formatBytes(int64(info.Size)),
			info.Created.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal checkpoints: %d\n", len(infos))
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
