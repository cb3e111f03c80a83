package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter  string
	Update  bool
	Timeout time.Duration
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden"` // "match", "mismatch", "missing", "updated"
	Digest string   `json:"digest,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestSummary is the aggregate outcome of the test command.
type TestSummary struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run every YAML scenario in a directory and compare each trace with
<scenarios-dir>/golden/<name>.golden.

Scenarios describe calls, scripts, mounts and events against the
modules of their manifests directory, plus step expectations and
assertions over the final result.

Exit codes:
  0 - All scenarios passed
  1 - At least one scenario failed or its golden file differs
  2 - Command error (directory not found, unreadable scenario)

Example:
  tether test ./testdata/scenarios
  tether test ./testdata/scenarios --filter promise --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name contains this string")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from the current traces")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", harness.DefaultQuiesceTimeout, "per-step settle timeout")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	files, err := findScenarios(dir)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, "failed to read scenarios", err)
	}
	if len(files) == 0 {
		return formatter.fail(ExitCommandError, ErrCodeNoFiles, fmt.Sprintf("no scenarios found in %s", dir), nil)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	summary := TestSummary{Scenarios: []ScenarioResult{}}
	for _, file := range files {
		sc, err := harness.LoadScenario(file)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, "failed to load scenario", err)
		}
		if opts.Filter != "" && !strings.Contains(sc.Name, opts.Filter) {
			continue
		}
		formatter.VerboseLog("Running %s", sc.Name)

		sr := runScenario(ctx, opts, sc, file, filepath.Join(dir, "golden"))
		if sr.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
		summary.Scenarios = append(summary.Scenarios, sr)
	}

	err = formatter.Result(summary, func() error {
		outputTestText(formatter, summary)
		return nil
	})
	if err != nil {
		return err
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", summary.Failed, len(summary.Scenarios)))
	}
	return nil
}

func runScenario(ctx context.Context, opts *TestOptions, sc *harness.Scenario, file, goldenDir string) ScenarioResult {
	sr := ScenarioResult{Name: sc.Name, File: file}

	res, err := harness.Run(ctx, sc, harness.WithQuiesceTimeout(opts.Timeout))
	if err != nil {
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.Errors = res.Errors

	snap := harness.Snapshot(res)
	data, err := snap.MarshalCanonical()
	if err != nil {
		sr.Errors = append(sr.Errors, err.Error())
		return sr
	}
	if sr.Digest, err = snap.Digest(); err != nil {
		sr.Errors = append(sr.Errors, err.Error())
		return sr
	}

	goldenPath := filepath.Join(goldenDir, sc.Name+".golden")
	if opts.Update {
		if err := writeGolden(goldenPath, data); err != nil {
			sr.Errors = append(sr.Errors, err.Error())
			return sr
		}
		sr.Golden = "updated"
		sr.Pass = res.Pass
		return sr
	}

	want, err := os.ReadFile(goldenPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		sr.Golden = "missing"
		sr.Errors = append(sr.Errors, fmt.Sprintf("golden file %s not found (run with --update)", goldenPath))
	case err != nil:
		sr.Errors = append(sr.Errors, err.Error())
	case bytes.Equal(bytes.TrimSpace(want), data):
		sr.Golden = "match"
	default:
		sr.Golden = "mismatch"
		sr.Errors = append(sr.Errors, fmt.Sprintf("trace differs from %s", goldenPath))
	}
	sr.Pass = res.Pass && sr.Golden == "match"
	return sr
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// findScenarios returns the YAML files directly under dir, sorted.
func findScenarios(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func outputTestText(f *OutputFormatter, s TestSummary) {
	for _, sr := range s.Scenarios {
		mark := "\u2713"
		if !sr.Pass {
			mark = "\u2717"
		}
		fmt.Fprintf(f.Writer, "%s %s", mark, sr.Name)
		if sr.Golden != "" && sr.Golden != "match" {
			fmt.Fprintf(f.Writer, " (golden %s)", sr.Golden)
		}
		fmt.Fprintln(f.Writer)
		for _, e := range sr.Errors {
			fmt.Fprintf(f.Writer, "    %s\n", e)
		}
	}
	fmt.Fprintf(f.Writer, "\n%d passed, %d failed\n", s.Passed, s.Failed)
}
