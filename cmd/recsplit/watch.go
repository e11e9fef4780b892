package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/recsplit/pkg/telemetry"
	"github.com/logflow/recsplit/pkg/tui"
	"github.com/logflow/recsplit/pkg/watch"
)

var (
	watchOutputDir string
	watchPattern   string
	watchDebounce  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Run a step for every file that lands in a directory",
	Long: `Watch a directory and run the configured step for each new or changed
file once writes to it have settled. Outputs are written to --output-dir
under the input's base name.

Examples:
  recsplit watch ./incoming --output-dir ./parsed --pattern '*.csv'`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputDir, "output-dir", "o", "", "Directory for outputs (required)")
	watchCmd.Flags().StringVar(&watchPattern, "pattern", "", "Only handle files whose name matches this glob")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before a file is handled")
	watchCmd.MarkFlagRequired("output-dir")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(watchOutputDir, 0755); err != nil {
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

	w, err := watch.New(args[0], watch.WithPattern(watchPattern), watch.WithDebounce(watchDebounce))
	if err != nil {
		return err
	}
	defer w.Close()

	out := cmd.OutOrStdout()
	ext := outputExt(cfg)
	w.OnChange = func(ctx context.Context, path string) error {
		output := derivedOutput(watchOutputDir, path, ext)
		tui.Infof(out, "%s → %s", path, output)
		exec, err := e.execute(ctx, path, output, nil)
		if exec != nil {
			tui.PrintSummary(out, exec)
		}
		return err
	}
	w.OnError = func(path string, err error) {
		tui.Errorf(cmd.ErrOrStderr(), "%s: %v", path, err)
	}

	tui.Infof(out, "watching %s (Ctrl+C to stop)", args[0])
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
