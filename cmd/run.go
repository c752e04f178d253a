package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/govizier/internal/policy"
	"github.com/cwbudde/govizier/internal/study"
)

var (
	runAlgorithm string
	runFunction  string
	runDim       int
	runTrials    int
	runBatch     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a designer against a benchmark function in memory",
	Long: `Drives a designer end to end without a server: suggest a batch, evaluate
it on a benchmark function, report the measurements and repeat. Prints the
best trials found.`,
	RunE: runBenchmark,
}

func init() {
	runCmd.Flags().StringVar(&runAlgorithm, "algorithm", study.AlgorithmDefault, "Designer algorithm")
	runCmd.Flags().StringVar(&runFunction, "function", "sphere", "Benchmark: sphere, rastrigin, rosenbrock")
	runCmd.Flags().IntVar(&runDim, "dim", 4, "Number of parameters")
	runCmd.Flags().IntVar(&runTrials, "trials", 100, "Total trials to evaluate")
	runCmd.Flags().IntVar(&runBatch, "batch", 5, "Trials per suggestion")
	rootCmd.AddCommand(runCmd)
}

// benchmark is minimized over [-5, 5]^dim.
type benchmark func(x []float64) float64

var benchmarks = map[string]benchmark{
	"sphere": func(x []float64) float64 {
		var s float64
		for _, v := range x {
			s += v * v
		}
		return s
	},
	"rastrigin": func(x []float64) float64 {
		s := 10 * float64(len(x))
		for _, v := range x {
			s += v*v - 10*math.Cos(2*math.Pi*v)
		}
		return s
	},
	"rosenbrock": func(x []float64) float64 {
		var s float64
		for i := 0; i+1 < len(x); i++ {
			s += 100*math.Pow(x[i+1]-x[i]*x[i], 2) + math.Pow(1-x[i], 2)
		}
		return s
	},
}

func benchmarkProblem(dim int) study.ProblemStatement {
	params := make([]study.ParameterConfig, dim)
	for i := range params {
		params[i] = study.ParameterConfig{Name: fmt.Sprintf("x%d", i), Type: study.Double, Min: -5, Max: 5}
	}
	return study.ProblemStatement{
		SearchSpace: study.SearchSpace{Parameters: params},
		Metrics:     []study.MetricInformation{{Name: "loss", Goal: study.Minimize}},
	}
}

// runLoop evaluates trials until total is reached and returns the best one.
func runLoop(ctx context.Context, algorithm string, f benchmark, dim, total, batch int) (study.Trial, error) {
	if dim <= 0 || total <= 0 || batch <= 0 {
		return study.Trial{}, study.InvalidArgument("dim, trials and batch must be positive")
	}
	r, err := policy.NewInRam(ctx, benchmarkProblem(dim), algorithm)
	if err != nil {
		return study.Trial{}, err
	}

	for done := 0; done < total; {
		n := min(batch, total-done)
		trials, err := r.SuggestTrials(ctx, n)
		if err != nil {
			return study.Trial{}, err
		}
		for _, t := range trials {
			x := make([]float64, dim)
			for i := range x {
				x[i] = t.Parameters[fmt.Sprintf("x%d", i)].Number
			}
			if _, err := r.Complete(ctx, t.ID, map[string]float64{"loss": f(x)}); err != nil {
				return study.Trial{}, err
			}
		}
		done += len(trials)
	}

	best, err := r.GetBestTrials(ctx, 1)
	if err != nil {
		return study.Trial{}, err
	}
	if len(best) == 0 {
		return study.Trial{}, fmt.Errorf("no completed trials")
	}
	return best[0], nil
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	f, ok := benchmarks[runFunction]
	if !ok {
		return fmt.Errorf("unknown benchmark: %s", runFunction)
	}

	slog.Info("Starting benchmark", "algorithm", runAlgorithm, "function", runFunction, "dim", runDim, "trials", runTrials)
	start := time.Now()
	best, err := runLoop(cmd.Context(), runAlgorithm, f, runDim, runTrials, runBatch)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	loss, _ := best.FinalMeasurement.Value("loss")
	slog.Info("Benchmark complete", "elapsed", elapsed, "best_trial", best.ID, "loss", loss)
	printTrials(os.Stdout, []study.Trial{best})
	fmt.Printf("\n%d trials in %s (%.0f trials/sec)\n", runTrials, elapsed.Round(time.Millisecond), float64(runTrials)/elapsed.Seconds())
	return nil
}
