package commands

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/chronicle-es/go-chronicle/cli/styles"
	"github.com/chronicle-es/go-chronicle/cli/ui"
)

// NewSchemaCommand creates the schema command
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the storage schema",
		Long: `Manage the postgres storage schema.

Examples:
  chronicle schema init   # Create tables and indexes
  chronicle schema info   # Show schema details`,
	}

	cmd.AddCommand(newSchemaInitCommand())
	cmd.AddCommand(newSchemaInfoCommand())

	return cmd
}

func newSchemaInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the event log tables and indexes",
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

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			program := tea.NewProgram(ui.NewSpinner("Creating tables and indexes..."))

			var initErr error
			go func() {
				initErr = adapter.Initialize(ctx)
				msg := ui.SpinnerDoneMsg{
					Result: fmt.Sprintf("Schema '%s' initialized", adapter.Schema()),
					Err:    initErr,
				}
				if initErr != nil {
					msg.Result = "Schema initialization failed"
				}
				program.Send(msg)
			}()

			if _, err := program.Run(); err != nil {
				return err
			}
			if initErr != nil {
				return fmt.Errorf("failed to initialize schema: %w", initErr)
			}

			return nil
		},
	}
}

func newSchemaInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show schema configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Println(styles.Title.Render("Storage Configuration"))
			fmt.Println(styles.FormatKeyValue("Driver", cfg.Storage.Driver))
			if cfg.Storage.Driver == "postgres" {
				fmt.Println(styles.FormatKeyValue("Schema", cfg.Storage.Schema))
				fmt.Println(styles.FormatKeyValue("Tables", "streams, events, documents, checkpoints, snapshots"))
			}
			fmt.Println()

			return nil
		},
	}
}
