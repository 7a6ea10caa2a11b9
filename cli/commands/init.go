package commands

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/chronicle-es/go-chronicle/cli/config"
	"github.com/chronicle-es/go-chronicle/cli/styles"
	"github.com/chronicle-es/go-chronicle/cli/ui"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		yes    bool
		driver string
	)

	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Initialize a new chronicle project",
		Long: `Initialize a new chronicle project in the current directory.

Creates a chronicle.yaml configuration file describing the storage
backend and projection engine settings.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			if config.Exists(cwd) {
				return fmt.Errorf("%s already exists in this directory", config.ConfigFileName)
			}

			cfg := config.DefaultConfig()
			if len(args) > 0 {
				cfg.Project.Name = args[0]
			}
			if driver != "" {
				cfg.Storage.Driver = driver
			}

			if !yes {
				form := huh.NewForm(
					huh.NewGroup(
						huh.NewInput().
							Title("Project name").
							Value(&cfg.Project.Name),
						huh.NewInput().
							Title("Go module path").
							Value(&cfg.Project.Module),
						huh.NewSelect[string]().
							Title("Storage driver").
							Options(
								huh.NewOption("PostgreSQL", "postgres"),
								huh.NewOption("In-memory (tests and prototyping)", "memory"),
							).
							Value(&cfg.Storage.Driver),
					),
				).WithTheme(huh.ThemeDracula())

				if err := form.Run(); err != nil {
					return err
				}
			}

			if err := os.WriteFile(config.ConfigFileName, []byte(config.GenerateYAML(cfg)), 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Println()
			fmt.Println(ui.SimpleBanner())
			fmt.Println()
			fmt.Println(styles.FormatSuccess("Created " + config.ConfigFileName))
			fmt.Println()
			fmt.Println(styles.Subtitle.Render("Next steps:"))
			fmt.Println(ui.ListItems([]string{
				"Set DATABASE_URL if using postgres",
				"Run " + styles.Code.Render("chronicle schema init") + " to create the storage schema",
				"Run " + styles.Code.Render("chronicle diagnose") + " to verify your setup",
			}))

			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept defaults without prompting")
	cmd.Flags().StringVarP(&driver, "driver", "d", "", "Storage driver (postgres or memory)")

	return cmd
}
