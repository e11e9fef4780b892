package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/logflow/recsplit/pkg/telemetry"
	"github.com/logflow/recsplit/pkg/tui"
)

var (
	inputFile  string
	outputFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Split, parse and write the records of one input",
	Long: `Read records from an input with a pool of workers and write them to an
output. Inputs and outputs may be local paths, file:// or s3:// URIs; inputs
may also be http(s):// URLs.

Examples:
  recsplit run -i people.csv -o people.jsonl --codec csv --fields id,name
  recsplit run -i export.zip -o export.parquet --workers 8
  recsplit run -i feed.xml -o feed.csv --codec xml --record-type person \
      --start '<person.*' --stop '.*</person>.*'
  recsplit run -i data.csv -o s3://bucket/out.csv --validate --error-policy skip \
      --quarantine ./rejects`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input location (required)")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output location (required)")
	runCmd.MarkFlagRequired("input")
	runCmd.MarkFlagRequired("output")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		return err
	}
	defer shutdown(cmd.Context())

	e, err := newEnv(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.checkpoints.Close()

	out := cmd.OutOrStdout()
	if verbose {
		tui.Header(out, version)
	}

	var progress func(read, written, skipped int64)
	var counter *tui.Counter
	if !noProgressFlag {
		counter = tui.NewCounter(cmd.ErrOrStderr(), "reading")
		progress = counter.Update
	}

	exec, err := e.execute(ctx, inputFile, outputFile, progress)
	if counter != nil {
		counter.Finish()
	}
	if exec == nil {
		return err
	}

	tui.PrintSummary(out, exec)
	if err != nil {
		return fmt.Errorf("step failed: %w", err)
	}
	return nil
}
