package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lazyjit/internal/config"
	"github.com/roach88/lazyjit/internal/harness"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Scenario bool
}

// ValidationError is one problem found in a file.
type ValidationError struct {
	File    string `json:"file"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate config or scenario files",
		Long: `Check config files (.cue, .toml, .yaml) against the config schema
without starting an engine. With --scenario, check harness scenario files
instead, including the config block each one carries.

Examples:
  lazyjit validate lazyjit.cue
  lazyjit validate --scenario testdata/scenarios/*.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Scenario, "scenario", false, "validate scenario files instead of config files")

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result := ValidationResult{Files: len(paths)}
	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)
		var err error
		if opts.Scenario {
			err = validateScenarioFile(path)
		} else {
			_, err = config.Load(path)
		}
		if err != nil {
			result.Errors = append(result.Errors, toValidationError(path, err))
		}
	}
	result.Valid = len(result.Errors) == 0

	if result.Valid {
		if opts.Format == "json" {
			return formatter.Success(result)
		}
		return formatter.Success(fmt.Sprintf("✓ %d file(s) valid", result.Files))
	}

	if opts.Format == "json" {
		if err := formatter.Error(ErrCodeConfig, "validation failed", result.Errors); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, e := range result.Errors {
			loc := e.File
			if e.Line > 0 {
				loc = fmt.Sprintf("%s:%d", e.File, e.Line)
			}
			msg := e.Message
			if e.Field != "" {
				msg = e.Field + ": " + e.Message
			}
			fmt.Fprintf(w, "✗ %s: %s\n", loc, msg)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d file(s) invalid", len(result.Errors)))
}

func validateScenarioFile(path string) error {
	s, err := harness.LoadScenario(path)
	if err != nil {
		return err
	}
	_, err = s.ResolveConfig()
	return err
}

func toValidationError(path string, err error) ValidationError {
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		ve := ValidationError{File: path, Field: cfgErr.Field, Message: cfgErr.Message}
		if cfgErr.Pos.IsValid() {
			ve.Line = cfgErr.Pos.Line()
		}
		return ve
	}
	return ValidationError{File: path, Message: err.Error()}
}
