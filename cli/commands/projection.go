package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/chronicle-es/go-chronicle/cli/styles"
	"github.com/chronicle-es/go-chronicle/cli/ui"
)

// NewProjectionCommand creates the projection command
func NewProjectionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Inspect and manage projections",
		Long: `Inspect projection checkpoints and reset projections for rebuild.

Examples:
  chronicle projection list              # List projections and their lag
  chronicle projection status EnrolmentCounts  # Show one projection
  chronicle projection reset EnrolmentCounts   # Clear documents and checkpoint`,
		Aliases: []string{"proj"},
	}

	cmd.AddCommand(newProjectionListCommand())
	cmd.AddCommand(newProjectionStatusCommand())
	cmd.AddCommand(newProjectionResetCommand())

	return cmd
}

func newProjectionListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List projections and their lag behind the log",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			adapter, err := openAdapter(cfg)
			if err != nil {
				return err
			}
			defer adapter.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			checkpoints, err := adapter.ListCheckpoints(ctx)
			if err != nil {
				return err
			}

			if len(checkpoints) == 0 {
				fmt.Println(styles.FormatInfo("No projection checkpoints recorded"))
				return nil
			}

			tip, err := adapter.LastSequence(ctx)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(checkpoints))
			for name := range checkpoints {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconList + " Projections"))
			fmt.Println()

			table := ui.NewTable("Name", "Checkpoint", "Log Tip", "Lag", "Status")
			for _, name := range names {
				position := checkpoints[name]
				lag := tip - position
				status := "ok"
				if lag > 0 {
					status = "pending"
				}
				table.AddRow(
					name,
					fmt.Sprintf("%d", position),
					fmt.Sprintf("%d", tip),
					fmt.Sprintf("%d", lag),
					ui.StatusBadge(status),
				)
			}

			fmt.Println(table.Render())
			fmt.Println()

			return nil
		},
	}
}

func newProjectionStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show detailed projection status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			adapter, err := openAdapter(cfg)
			if err != nil {
				return err
			}
			defer adapter.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			position, err := adapter.GetCheckpoint(ctx, name)
			if err != nil {
				return err
			}

			tip, err := adapter.LastSequence(ctx)
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconInfo + " Projection: " + name))
			fmt.Println()
			fmt.Println("  " + styles.FormatKeyValue("Checkpoint", fmt.Sprintf("%d / %d", position, tip)))

			if tip > 0 {
				progress := float64(position) / float64(tip) * 100
				fmt.Println("  " + styles.FormatKeyValue("Progress", fmt.Sprintf("%.1f%%", progress)))
			}
			fmt.Println()

			if position < tip {
				fmt.Println(styles.FormatWarning(fmt.Sprintf("%d events behind", tip-position)))
			} else {
				fmt.Println(styles.FormatSuccess("Up to date"))
			}

			return nil
		},
	}
}

func newProjectionResetCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset <name>",
		Short: "Clear a projection's documents and checkpoint",
		Long: `Clear a projection's documents and checkpoint so it rebuilds
from the beginning of the log on its next run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			adapter, err := openAdapter(cfg)
			if err != nil {
				return err
			}
			defer adapter.Close()

			if !force {
				var confirmed bool
				form := huh.NewForm(
					huh.NewGroup(
						huh.NewConfirm().
							Title(fmt.Sprintf("Reset projection '%s'?", name)).
							Description("This deletes all projected documents and the checkpoint; the projection replays from the beginning").
							Value(&confirmed),
					),
				).WithTheme(huh.ThemeDracula())

				if err := form.Run(); err != nil {
					return err
				}

				if !confirmed {
					fmt.Println(styles.FormatInfo("Cancelled"))
					return nil
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := adapter.DeleteDocuments(ctx, name); err != nil {
				return fmt.Errorf("failed to delete documents: %w", err)
			}
			if err := adapter.DeleteCheckpoint(ctx, name); err != nil {
				return fmt.Errorf("failed to delete checkpoint: %w", err)
			}

			fmt.Println(styles.FormatSuccess(fmt.Sprintf("Projection '%s' reset", name)))
			fmt.Println(styles.FormatInfo("It will replay from the beginning on next run"))

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation")

	return cmd
}
