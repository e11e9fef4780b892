package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/recsplit/pkg/checkpoint"
	"github.com/logflow/recsplit/pkg/tui"
)

var (
	checkpointsIncomplete bool
	checkpointsOlderThan  time.Duration
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List and manage stored step executions",
	RunE:  runCheckpointsList,
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <execution-id>...",
	Short: "Delete stored step executions",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheckpointsDelete,
}

var checkpointsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove file checkpoints older than --older-than",
	RunE:  runCheckpointsCleanup,
}

func init() {
	checkpointsCmd.Flags().BoolVar(&checkpointsIncomplete, "incomplete", false, "Only list executions that have not finished")
	checkpointsCleanupCmd.Flags().DurationVar(&checkpointsOlderThan, "older-than", 7*24*time.Hour, "Minimum age of removed checkpoints")

	checkpointsCmd.AddCommand(checkpointsDeleteCmd)
	checkpointsCmd.AddCommand(checkpointsCleanupCmd)
}

func openBackend(cmd *cobra.Command) (checkpoint.Backend, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openCheckpoints(cfg)
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	b, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	list := b.List
	if checkpointsIncomplete {
		list = b.ListIncomplete
	}
	execs, err := list(cmd.Context())
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No step executions in %s backend.\n", b.Name())
		return nil
	}
	tui.PrintExecutions(cmd.OutOrStdout(), execs)
	return nil
}

func runCheckpointsDelete(cmd *cobra.Command, args []string) error {
	b, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	for _, id := range args {
		if err := b.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	}
	return nil
}

func runCheckpointsCleanup(cmd *cobra.Command, args []string) error {
	b, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	fb, ok := b.(*checkpoint.FileBackend)
	if !ok {
		// redis keys expire on their own
		return fmt.Errorf("cleanup is only needed for the file backend, not %s", b.Name())
	}
	n, err := fb.Cleanup(checkpointsOlderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d checkpoints\n", n)
	return nil
}
