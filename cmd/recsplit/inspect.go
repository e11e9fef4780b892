package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/logflow/recsplit/pkg/params"
	"github.com/logflow/recsplit/pkg/source"
	"github.com/logflow/recsplit/pkg/tui"
	"github.com/logflow/recsplit/pkg/writer"
)

var (
	inspectKind    string
	inspectColumns bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <location>",
	Short: "Show the streams of an input or the columns of an output",
	Long: `Inspect lists the streams a source would hand to workers, with their
sizes and the concurrency hint. Parquet files, and CSV files with --columns,
are described through DuckDB instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectKind, "kind", "auto", "Source kind (auto, file, archive, workbook)")
	inspectCmd.Flags().BoolVar(&inspectColumns, "columns", false, "Describe columns of a CSV file")
}

func runInspect(cmd *cobra.Command, args []string) error {
	location := args[0]
	ctx := cmd.Context()

	if tabular(location, inspectColumns) {
		cols, rows, err := writer.Describe(ctx, location)
		if err != nil {
			return err
		}
		in := &tui.Inspection{Location: location, Kind: "table", Rows: rows}
		for _, c := range cols {
			in.Columns = append(in.Columns, tui.Column{Name: c.Name, Type: c.Type})
		}
		tui.PrintInspection(cmd.OutOrStdout(), in)
		return nil
	}

	in, err := inspectSource(cmd, location)
	if err != nil {
		return err
	}
	tui.PrintInspection(cmd.OutOrStdout(), in)
	return nil
}

func tabular(location string, columns bool) bool {
	l := strings.ToLower(location)
	return strings.HasSuffix(l, ".parquet") || (columns && strings.HasSuffix(l, ".csv"))
}

func inspectSource(cmd *cobra.Command, location string) (*tui.Inspection, error) {
	kind, err := source.ParseKind(inspectKind, location)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	src := source.New(kind, source.Options{Location: location, Resolver: newResolver(cfg)})
	defer src.Close()

	if err := src.Initialise(cmd.Context(), params.Params{}); err != nil {
		return nil, err
	}

	in := &tui.Inspection{
		Location: location,
		Kind:     kind.String(),
		Shared:   src.MultipleThreadsPerReader(),
	}
	for _, e := range src.Entries() {
		in.Entries = append(in.Entries, tui.Entry{Name: e.Name, Size: e.Size})
	}
	return in, nil
}
