package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/govizier/internal/store"
)

var transferFile string

var exportCmd = &cobra.Command{
	Use:   "export [study-guid]",
	Short: "Export a study and its trials as JSON lines",
	Long: `Writes the study (config, metadata and committed checkpoint) followed by
its trials, one JSON document per line, to --file or stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a study exported with export",
	Long: `Recreates a study with its original guid from an export stream read
from --file or stdin. Trial ids and the designer checkpoint are preserved, so
suggestions resume where the exporting store left off.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	exportCmd.Flags().StringVarP(&transferFile, "file", "f", "", "Output file (default stdout)")
	importCmd.Flags().StringVarP(&transferFile, "file", "f", "", "Input file (default stdin)")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var out io.Writer = os.Stdout
	if transferFile != "" {
		f, err := os.Create(transferFile)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", transferFile, err)
		}
		defer f.Close()
		out = f
	}

	n, err := store.ExportStudy(ctx, st, args[0], out)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	slog.Info("Study exported", "study_guid", args[0], "trials", n)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var in io.Reader = os.Stdin
	if transferFile != "" {
		f, err := os.Open(transferFile)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", transferFile, err)
		}
		defer f.Close()
		in = f
	}

	imported, err := store.ImportStudy(ctx, st, in)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	slog.Info("Study imported", "study_guid", imported.GUID)
	fmt.Println(imported.GUID)
	return nil
}
