package commands

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronicle-es/go-chronicle/cli/config"
	"github.com/chronicle-es/go-chronicle/cli/styles"
	"github.com/chronicle-es/go-chronicle/cli/ui"
)

// NewDiagnoseCommand creates the diagnose command
func NewDiagnoseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks on your chronicle setup.

This command verifies:
  • Configuration file validity
  • Storage backend connectivity
  • Event log schema
  • Projection lag`,
		Aliases: []string{"diag", "doctor"},
		RunE:    runDiagnose,
	}
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	fmt.Println()
	fmt.Println(ui.Banner())
	fmt.Println()
	fmt.Println(styles.Title.Render(styles.IconHealth + " Running Diagnostics"))
	fmt.Println()

	checks := []DiagnosticCheck{
		{Name: "Go Version", Check: checkGoVersion},
		{Name: "Configuration", Check: checkConfiguration},
		{Name: "Storage Connection", Check: checkStorageConnection},
		{Name: "Event Log Schema", Check: checkEventLogSchema},
		{Name: "Projection Lag", Check: checkProjectionLag},
	}

	results := make([]CheckResult, 0, len(checks))
	allPassed := true

	for _, check := range checks {
		fmt.Printf("  %s Checking %s... ", styles.IconPending, check.Name)

		result := check.Check()
		results = append(results, result)

		switch result.Status {
		case StatusOK:
			fmt.Println(styles.SuccessStyle.Render("OK"))
		case StatusWarning:
			fmt.Println(styles.WarningStyle.Render("WARNING"))
			allPassed = false
		default:
			fmt.Println(styles.ErrorStyle.Render("FAILED"))
			allPassed = false
		}

		if result.Message != "" {
			fmt.Printf("    %s\n", styles.Muted.Render(result.Message))
		}
	}

	fmt.Println()
	fmt.Println(ui.Divider(50))
	fmt.Println()

	if allPassed {
		fmt.Println(styles.FormatSuccess("All checks passed! Your chronicle setup is healthy."))
	} else {
		fmt.Println(styles.FormatWarning("Some checks failed or have warnings."))
		fmt.Println()

		fmt.Println(styles.Subtitle.Render("Recommendations:"))
		for _, r := range results {
			if r.Recommendation != "" {
				fmt.Printf("  %s %s\n", styles.IconArrow, r.Recommendation)
			}
		}
	}

	return nil
}

// CheckStatus represents the status of a diagnostic check
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// CheckResult represents the result of a diagnostic check
type CheckResult struct {
	Name           string
	Status         CheckStatus
	Message        string
	Recommendation string
}

// newCheckResult creates a CheckResult with the given name.
func newCheckResult(name string, status CheckStatus, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message}
}

// withRecommendation adds a recommendation to a CheckResult.
func (r CheckResult) withRecommendation(rec string) CheckResult {
	r.Recommendation = rec
	return r
}

// DiagnosticCheck represents a diagnostic check function
type DiagnosticCheck struct {
	Name  string
	Check func() CheckResult
}

func checkGoVersion() CheckResult {
	version := runtime.Version()
	if version < "go1.21" {
		return newCheckResult("Go Version", StatusWarning, version).
			withRecommendation("Upgrade to Go 1.21 or later")
	}
	return newCheckResult("Go Version", StatusOK, version)
}

func checkConfiguration() CheckResult {
	const name = "Configuration"
	cfg, err := loadConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return newCheckResult(name, StatusWarning, "No "+config.ConfigFileName+" found").
				withRecommendation("Run 'chronicle init' to create a configuration file")
		}
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Check " + config.ConfigFileName + " syntax")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return newCheckResult(name, StatusWarning, fmt.Sprintf("%d validation errors", len(errs))).
			withRecommendation(errs[0])
	}
	return newCheckResult(name, StatusOK, fmt.Sprintf("Project: %s, Driver: %s", cfg.Project.Name, cfg.Storage.Driver))
}

func checkStorageConnection() CheckResult {
	const name = "Storage Connection"

	cfg, err := loadConfig()
	if err != nil {
		return newCheckResult(name, StatusWarning, "No configuration found").
			withRecommendation("Run 'chronicle init' first")
	}
	if cfg.Storage.Driver == "memory" {
		return newCheckResult(name, StatusOK, "Using in-memory driver (no connection needed)")
	}
	if cfg.DatabaseURL() == "" {
		return newCheckResult(name, StatusWarning, "DATABASE_URL not set").
			withRecommendation("Set the DATABASE_URL environment variable")
	}

	adapter, err := openAdapter(cfg)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Verify database credentials")
	}
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := adapter.Ping(ctx); err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Verify the database is running and reachable")
	}

	return newCheckResult(name, StatusOK, "Connected")
}

func checkEventLogSchema() CheckResult {
	const name = "Event Log Schema"

	cfg, err := loadConfig()
	if err != nil || cfg.Storage.Driver == "memory" || cfg.DatabaseURL() == "" {
		return newCheckResult(name, StatusOK, "Skipped (no postgres backend configured)")
	}

	adapter, err := openAdapter(cfg)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error())
	}
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tip, err := adapter.LastSequence(ctx)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Run 'chronicle schema init' to create the tables")
	}

	return newCheckResult(name, StatusOK, fmt.Sprintf("%d events in the log", tip))
}

func checkProjectionLag() CheckResult {
	const name = "Projection Lag"

	cfg, err := loadConfig()
	if err != nil || cfg.Storage.Driver == "memory" || cfg.DatabaseURL() == "" {
		return newCheckResult(name, StatusOK, "Skipped (no postgres backend configured)")
	}

	adapter, err := openAdapter(cfg)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error())
	}
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	checkpoints, err := adapter.ListCheckpoints(ctx)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error())
	}
	if len(checkpoints) == 0 {
		return newCheckResult(name, StatusOK, "No projections registered")
	}

	tip, err := adapter.LastSequence(ctx)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error())
	}

	var behind int
	var worst uint64
	for _, position := range checkpoints {
		if position < tip {
			behind++
			if lag := tip - position; lag > worst {
				worst = lag
			}
		}
	}

	if behind > 0 {
		return newCheckResult(name, StatusWarning,
			fmt.Sprintf("%d of %d projections behind (worst lag: %d events)", behind, len(checkpoints), worst)).
			withRecommendation("Check that the projection engine is running")
	}

	return newCheckResult(name, StatusOK, fmt.Sprintf("All %d projections up to date", len(checkpoints)))
}
