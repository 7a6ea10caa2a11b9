// chronicle is the command-line interface for the go-chronicle library.
//
// Usage:
//
//	chronicle <command> [flags]
//
// Commands:
//
//	init        Initialize a new chronicle project
//	schema      Create and inspect the storage schema
//	projection  Inspect and reset projections
//	stream      Inspect event streams
//	diagnose    Run diagnostic checks on your setup
//	version     Show version information
//
// Examples:
//
//	# Initialize a new project
//	chronicle init my-project
//
//	# Create the postgres tables
//	chronicle schema init
//
//	# Check projection lag
//	chronicle projection list
//
//	# Run diagnostics
//	chronicle diagnose
package main

import (
	"os"

	"github.com/chronicle-es/go-chronicle/cli/commands"

	// Register PostgreSQL driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
