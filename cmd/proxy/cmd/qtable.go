package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Pranshu258/rl-proxy/pkg/config"
	"github.com/Pranshu258/rl-proxy/pkg/qtable"
)

var qtableCmd = &cobra.Command{
	Use:   "qtable",
	Short: "Inspect or replace the active Q-table snapshot",
}

var qtableExportCmd = &cobra.Command{
	Use:   "export [destination]",
	Short: "Copy the configured Q-table snapshot to destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		table := qtable.New(cfg.LearningRate, cfg.DiscountFactor)

		src, err := os.Open(cfg.QTableSnapshotPath)
		if err != nil {
			return fmt.Errorf("open snapshot %s: %w", cfg.QTableSnapshotPath, err)
		}
		defer src.Close()
		if err := table.Restore(src); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}

		dst, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer dst.Close()
		if err := table.Snapshot(dst); err != nil {
			return err
		}
		fmt.Printf("exported %d entries to %s\n", table.Size(), args[0])
		return nil
	},
}

var qtableImportCmd = &cobra.Command{
	Use:   "import [source]",
	Short: "Load source into the configured Q-table snapshot path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.QTableSnapshotPath == "" {
			return fmt.Errorf("QTABLE_SNAPSHOT_PATH is not configured")
		}
		table := qtable.New(cfg.LearningRate, cfg.DiscountFactor)

		src, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer src.Close()
		if err := table.Restore(src); err != nil {
			return fmt.Errorf("restore %s: %w", args[0], err)
		}

		dst, err := os.Create(cfg.QTableSnapshotPath)
		if err != nil {
			return err
		}
		defer dst.Close()
		if err := table.Snapshot(dst); err != nil {
			return err
		}
		fmt.Printf("imported %d entries into %s\n", table.Size(), cfg.QTableSnapshotPath)
		return nil
	},
}

func init() {
	qtableCmd.AddCommand(qtableExportCmd, qtableImportCmd)
}
