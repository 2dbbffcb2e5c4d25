package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/o2c-export/internal/model"
	"github.com/sells-group/o2c-export/internal/period"
	"github.com/sells-group/o2c-export/internal/progress"
)

var (
	exportMonth  string
	exportDest   string
	exportUpload bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one reporting month to per-provider CSVs",
	Long: `Runs the order-level and item-level warehouse queries for the month,
merges and pivots them, and writes one CSV per payment provider under the
destination root. Without --month the previous month is exported until the
configured cutoff day, the current month after it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		per, err := period.Resolve(exportMonth, time.Now(), cfg.Export.CutoffDay)
		if err != nil {
			return err
		}
		applyExportFlags()

		env, err := initExport(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		sink := progress.NewWriter(os.Stderr)
		_, result, err := env.Pipeline.Run(ctx, per, model.TriggerCLI, sink)
		if result != nil {
			formatExportResult(os.Stdout, result)
		}
		return err
	},
}

// applyExportFlags layers command-line overrides onto the loaded config.
func applyExportFlags() {
	if exportDest != "" {
		cfg.Export.RootDir = exportDest
	}
	if exportUpload {
		cfg.Upload.Enabled = true
	}
}

// formatExportResult writes the written and skipped providers to w.
func formatExportResult(out io.Writer, r *model.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if len(r.Files) > 0 {
		_, _ = fmt.Fprintln(w, "PROVIDER\tROWS\tPATH")
		for _, f := range r.Files {
			path := f.Path
			if f.URI != "" {
				path += " (" + f.URI + ")"
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", f.Provider, f.Rows, path)
		}
	}
	for _, s := range r.Skipped {
		_, _ = fmt.Fprintf(w, "%s\tskipped\t%s\n", s.Provider, s.Reason)
	}
	if r.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", r.Error)
	}
	_ = w.Flush()
}

func init() {
	exportCmd.Flags().StringVar(&exportMonth, "month", "", "reporting month as YYYY-MM (default from cutoff day)")
	exportCmd.Flags().StringVar(&exportDest, "dest", "", "destination root directory (default export.root_dir)")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false, "also upload files to the configured GCS bucket")
	rootCmd.AddCommand(exportCmd)
}
