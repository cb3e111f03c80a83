package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/manifest"
)

// ValidationResult is the outcome of validating a manifests directory.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Files   int               `json:"files"`
	Modules int               `json:"modules"`
	Methods int               `json:"methods"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one manifest problem.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [manifests-dir]",
		Short: "Validate module manifests",
		Long: `Compile every CUE manifest in a directory and report all problems.

Unlike run, validate does not stop at the first broken module.

Exit codes:
  0 - All manifests valid
  1 - At least one manifest is invalid
  2 - Command error (directory not found, no CUE files)

Example:
  tether validate ./modules
  tether validate --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if dir == "" {
		cfg, err := loadConfig(opts)
		if err != nil {
			return formatter.fail(ExitCommandError, loadErrorCode(err), "failed to load config", err)
		}
		dir = cfg.Manifests.Dir
	}
	formatter.VerboseLog("Validating manifests in %s", dir)

	res, errs := loadManifests(dir, manifest.CollectAll)
	if res == nil {
		// A package that does not parse is an invalid manifest, not a
		// command error.
		if code := loadErrorCode(errs[0]); code != ErrCodeManifest {
			return formatter.fail(ExitCommandError, code, errs[0].Error(), nil)
		}
		res = &manifest.LoadResult{}
	}

	result := ValidationResult{Files: res.FileCount, Modules: len(res.Modules)}
	for _, m := range res.Modules {
		result.Methods += len(m.Methods)
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, toValidationError(err))
	}
	if len(errs) == 0 {
		// Compiled modules may still clash once registered.
		if _, err := manifest.BuildAll(res.Modules); err != nil {
			result.Errors = append(result.Errors, ValidationError{Code: ErrCodeManifest, Message: err.Error()})
		}
	}
	result.Valid = len(result.Errors) == 0

	err := formatter.Result(result, func() error {
		outputValidateText(formatter, result)
		return nil
	})
	if err != nil {
		return err
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d manifest errors", len(result.Errors)))
	}
	return nil
}

func toValidationError(err error) ValidationError {
	var le *LoadError
	if errors.As(err, &le) {
		ve := ValidationError{Code: le.Code, Message: le.Message, Line: lineOf(le.Pos)}
		if le.Pos.IsValid() {
			ve.File = le.Pos.Filename()
		}
		return ve
	}
	return ValidationError{Code: ErrCodeGeneric, Message: err.Error()}
}

func outputValidateText(f *OutputFormatter, r ValidationResult) {
	if r.Valid {
		fmt.Fprintf(f.Writer, "\u2713 %d modules, %d methods in %d files\n", r.Modules, r.Methods, r.Files)
		return
	}
	fmt.Fprintf(f.Writer, "\u2717 %d errors\n", len(r.Errors))
	for _, e := range r.Errors {
		switch {
		case e.File != "" && e.Line > 0:
			fmt.Fprintf(f.Writer, "  %s:%d: [%s] %s\n", e.File, e.Line, e.Code, e.Message)
		default:
			fmt.Fprintf(f.Writer, "  [%s] %s\n", e.Code, e.Message)
		}
	}
}
