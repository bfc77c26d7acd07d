package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/resgraph/internal/harness"
	"github.com/roach88/resgraph/internal/security"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Policies []string
	Seeds    []string
}

// FileCheck is the validation outcome of one file.
type FileCheck struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"` // "scenario" | "policy" | "seed"
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool        `json:"valid"`
	Files []FileCheck `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [scenario-files-or-dirs...]",
		Short: "Check scenario, policy and seed files without running them",
		Long: `Parse and check scenario files, security policies and seed files.

Directories are searched for scenario YAML files.

Example:
  resgraph validate ./scenarios
  resgraph validate --policy ./policy.yaml --seed ./seed.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Policies, "policy", nil, "security policy file to check (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Seeds, "seed", nil, "seed file to check (repeatable)")

	return cmd
}

func runValidate(opts *ValidateOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if len(args) == 0 && len(opts.Policies) == 0 && len(opts.Seeds) == 0 {
		return NewExitError(ExitCommandError, "nothing to validate")
	}

	var scenarios []string
	for _, arg := range args {
		files, err := findScenarioFiles(arg, "")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		scenarios = append(scenarios, files...)
	}

	result := ValidationResult{Valid: true}
	check := func(path, kind string, err error) {
		fc := FileCheck{Path: path, Kind: kind}
		if err != nil {
			fc.Error = err.Error()
			result.Valid = false
		}
		out.VerboseLog("checked %s %s", kind, path)
		result.Files = append(result.Files, fc)
	}
	for _, f := range scenarios {
		_, err := harness.LoadScenario(f)
		check(f, "scenario", err)
	}
	for _, f := range opts.Policies {
		_, err := security.LoadPolicy(f)
		check(f, "policy", err)
	}
	for _, f := range opts.Seeds {
		_, err := LoadSeed(f)
		check(f, "seed", err)
	}

	if !result.Valid {
		if out.json() {
			if err := out.Error(ErrCodeInvalid, "validation failed", result); err != nil {
				return err
			}
		} else {
			writeValidateText(out, result)
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	if out.json() {
		return out.Success(result)
	}
	writeValidateText(out, result)
	return nil
}

func writeValidateText(out *OutputFormatter, result ValidationResult) {
	var b strings.Builder
	failed := 0
	for _, fc := range result.Files {
		if fc.Error == "" {
			fmt.Fprintf(&b, "✓ %s %s\n", fc.Kind, fc.Path)
			continue
		}
		failed++
		fmt.Fprintf(&b, "✗ %s %s\n  %s\n", fc.Kind, fc.Path, fc.Error)
	}
	if failed == 0 {
		fmt.Fprintf(&b, "✓ %d file(s) valid\n", len(result.Files))
	} else {
		fmt.Fprintf(&b, "%d of %d file(s) invalid\n", failed, len(result.Files))
	}
	fmt.Fprint(out.Writer, b.String())
}
