package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/govizier/internal/server"
	"github.com/cwbudde/govizier/internal/store"
	"github.com/cwbudde/govizier/internal/study"
)

var (
	serverURL   string
	statusBest  int
	statusLimit time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status [study-guid]",
	Short: "Query a running server for studies",
	Long: `Queries a running server.
Without arguments, lists all studies.
With a study guid, shows trial counts and the best trials of that study.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	statusCmd.Flags().IntVar(&statusBest, "best", 3, "Number of best trials to show")
	statusCmd.Flags().DurationVar(&statusLimit, "timeout", 10*time.Second, "Request timeout")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	remote := server.NewRemoteStore(serverURL, statusLimit)
	defer remote.Close()

	if len(args) == 0 {
		return listStudies(cmd, remote, os.Stdout)
	}
	return showStudy(cmd, remote, args[0], os.Stdout)
}

func listStudies(cmd *cobra.Command, remote *server.RemoteStore, out io.Writer) error {
	studies, err := remote.ListStudies(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list studies: %w", err)
	}
	if len(studies) == 0 {
		fmt.Fprintln(out, "No studies found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GUID\tNAME\tALGORITHM\tMETRICS\tCREATED")
	for _, s := range studies {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.GUID,
			s.DisplayName,
			algorithmOf(s.Config),
			len(s.Config.Problem.Metrics),
			s.CreationTime.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal studies: %d\n", len(studies))
	return nil
}

func showStudy(cmd *cobra.Command, remote *server.RemoteStore, guid string, out io.Writer) error {
	ctx := cmd.Context()
	s, err := remote.GetStudy(ctx, guid)
	if err != nil {
		return fmt.Errorf("failed to get study: %w", err)
	}
	trials, err := remote.GetTrials(ctx, guid, store.TrialFilter{})
	if err != nil {
		return fmt.Errorf("failed to get trials: %w", err)
	}

	fmt.Fprintf(out, "Study: %s\n", s.GUID)
	if s.DisplayName != "" {
		fmt.Fprintf(out, "Name: %s\n", s.DisplayName)
	}
	fmt.Fprintf(out, "Algorithm: %s\n", algorithmOf(s.Config))
	fmt.Fprintf(out, "Parameters: %d\n", len(s.Config.Problem.SearchSpace.Parameters))
	for _, m := range s.Config.Problem.Metrics {
		fmt.Fprintf(out, "  Metric %s (%s)\n", m.Name, m.Goal)
	}
	fmt.Fprintln(out)

	counts := make(map[study.TrialStatus]int)
	for _, t := range trials {
		counts[t.Status]++
	}
	fmt.Fprintf(out, "Trials: %d (active %d, completed %d, stopped %d)\n",
		len(trials), counts[study.Active], counts[study.Completed], counts[study.Stopped])

	if statusBest <= 0 || counts[study.Completed] == 0 {
		return nil
	}
	best, err := remote.BestTrials(ctx, guid, statusBest)
	if err != nil {
		return fmt.Errorf("failed to get best trials: %w", err)
	}
	fmt.Fprintln(out, "\nBest trials:")
	printTrials(out, best)
	return nil
}

func algorithmOf(c study.StudyConfig) string {
	if c.Algorithm == "" {
		return study.AlgorithmDefault
	}
	return c.Algorithm
}

// printTrials writes trials as a table with one column per parameter and
// metric.
func printTrials(out io.Writer, trials []study.Trial) {
	var params, metrics []string
	seenParam := make(map[string]bool)
	seenMetric := make(map[string]bool)
	for _, t := range trials {
		for name := range t.Parameters {
			if !seenParam[name] {
				seenParam[name] = true
				params = append(params, name)
			}
		}
		if t.FinalMeasurement != nil {
			for name := range t.FinalMeasurement.Metrics {
				if !seenMetric[name] {
					seenMetric[name] = true
					metrics = append(metrics, name)
				}
			}
		}
	}
	sort.Strings(params)
	sort.Strings(metrics)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "ID\tSTATUS")
	for _, p := range params {
		fmt.Fprintf(w, "\t%s", p)
	}
	for _, m := range metrics {
		fmt.Fprintf(w, "\t%s", m)
	}
	fmt.Fprintln(w)

	for _, t := range trials {
		fmt.Fprintf(w, "%d\t%s", t.ID, t.Status)
		for _, p := range params {
			v, ok := t.Parameters[p]
			if !ok {
				fmt.Fprint(w, "\t-")
				continue
			}
			fmt.Fprintf(w, "\t%s", v)
		}
		for _, m := range metrics {
			if v, ok := t.FinalMeasurement.Value(m); ok {
				fmt.Fprintf(w, "\t%.6g", v)
			} else {
				fmt.Fprint(w, "\t-")
			}
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}
