// Package commands provides the CLI command implementations for chronicle.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chronicle-es/go-chronicle/cli/styles"
	"github.com/chronicle-es/go-chronicle/cli/ui"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the chronicle CLI
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "chronicle",
		Short: "Event-sourced persistence toolkit for Go",
		Long: ui.SimpleBanner() + `

Chronicle is an event-sourced persistence library for Go applications.
It provides an append-only event log, aggregate folding, and
checkpointed projections over pluggable storage backends.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("chronicle init") + `              Initialize a new project
  ` + styles.Code.Render("chronicle schema init") + `       Create the storage schema
  ` + styles.Code.Render("chronicle projection list") + `   Show projection lag
  ` + styles.Code.Render("chronicle diagnose") + `          Check your setup

` + styles.Title.Render("Documentation:") + `

  https://github.com/chronicle-es/go-chronicle`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewSchemaCommand())
	rootCmd.AddCommand(NewProjectionCommand())
	rootCmd.AddCommand(NewStreamCommand())
	rootCmd.AddCommand(NewDiagnoseCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(styles.FormatError(err.Error()))
		return err
	}

	return nil
}

// NewVersionCommand creates the version command
func NewVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(ui.SimpleBanner())
			fmt.Println()
			fmt.Println(styles.FormatKeyValue("Version", version))
			fmt.Println(styles.FormatKeyValue("Commit", commit))
			fmt.Println(styles.FormatKeyValue("Built", buildDate))
		},
	}
}
