package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/host"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/jsruntime"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Manifests string
	Database  string
	Global    string
	Timeout   time.Duration
	Metrics   bool
}

// RunResult is the outcome of a script run.
type RunResult struct {
	Result     ir.Value             `json:"result"`
	Rejection  *jsruntime.Rejection `json:"rejection,omitempty"`
	Console    []string             `json:"console"`
	Exceptions []string             `json:"exceptions"`
	Metrics    []MetricSample       `json:"metrics,omitempty"`
}

// MetricSample is one gathered metric value.
type MetricSample struct {
	Name   string  `json:"name"`
	Labels string  `json:"labels,omitempty"`
	Value  float64 `json:"value"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <script.js>",
		Short: "Run a script against the native modules",
		Long: `Start a bridge with the modules declared in the manifests directory,
evaluate the script and wait until every call has settled.

The script talks to native code through the nativeModules global. Its
outcome is read from a global (default "result"); when that global holds
a promise, the settled value is reported.

Exit codes:
  0 - Script completed
  1 - Script threw or the result promise rejected
  2 - Command error (manifests, config, database)

Example:
  tether run --manifests ./modules ./app.js
  tether run --db ./tether.db --metrics ./app.js`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Manifests, "manifests", "", "CUE manifests directory (default from config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record diagnostics into this SQLite database")
	cmd.Flags().StringVar(&opts.Global, "global", "result", "global holding the script's outcome")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "how long to wait for pending calls")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "report bridge metrics after the run")

	return cmd
}

func runScript(opts *RunOptions, scriptPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}

	dir := manifestDir(opts.Manifests, cfg)
	formatter.VerboseLog("Loading manifests from %s", dir)
	mods, err := buildModules(dir)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), "failed to load manifests", err)
	}

	src, err := os.ReadFile(scriptPath)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, "failed to read script", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := host.New(ctx, cfg, mods, host.WithLogger(slog.Default()))
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeBuildFailed, "failed to build bridge", err)
	}
	if h.Session != nil {
		formatter.SessionID = h.Session.ID()
	}
	defer func() {
		if closeErr := h.Close(context.Background()); closeErr != nil {
			slog.Error("error closing bridge", "error", closeErr)
		}
	}()
	if err := h.Start(ctx); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeBuildFailed, "failed to start bridge", err)
	}

	// The completion value is discarded; outcomes travel through the
	// result global so they may be promises.
	if _, err := h.Eval(ctx, filepath.Base(scriptPath), string(src)+"\n;undefined;"); err != nil {
		return formatter.fail(ExitFailure, ErrCodeScript, "script failed", err)
	}
	if err := waitIdle(ctx, h, opts.Timeout); err != nil {
		return formatter.fail(ExitFailure, ErrCodeScript, "script did not settle", err)
	}

	result := RunResult{
		Console:    nonNil(h.Script.Console()),
		Exceptions: nonNil(h.Script.Exceptions()),
	}
	v, err := h.Script.Global(ctx, opts.Global)
	var rej *jsruntime.Rejection
	switch {
	case err == nil:
		result.Result = v
	case errors.As(err, &rej):
		result.Rejection = rej
	default:
		return formatter.fail(ExitFailure, ErrCodeScript, "failed to read "+opts.Global, err)
	}
	if opts.Metrics {
		if result.Metrics, err = gatherMetrics(h.Metrics.Registry()); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, "failed to gather metrics", err)
		}
	}

	err = formatter.Result(result, func() error {
		outputRunText(formatter, h, result)
		return nil
	})
	if err != nil {
		return err
	}

	if result.Rejection != nil {
		return NewExitError(ExitFailure, "result rejected: "+result.Rejection.Error())
	}
	return nil
}

// waitIdle polls until no native call and no script promise is pending.
func waitIdle(ctx context.Context, h *host.Host, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		scriptPending, err := h.Script.Pending(ctx)
		if err != nil {
			return err
		}
		native := h.Dispatcher.Pending()
		if native == 0 && scriptPending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d native calls and %d script promises still pending: %w", native, scriptPending, ctx.Err())
		case <-ticker.C:
		}
	}
}

// gatherMetrics flattens the registry into samples ordered by name and
// labels. Histograms report their sample count.
func gatherMetrics(reg prometheus.Gatherer) ([]MetricSample, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	var out []MetricSample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			s := MetricSample{Name: mf.GetName(), Labels: labelString(m.GetLabel())}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				s.Value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				s.Value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				s.Name += "_count"
				s.Value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}

func labelString(pairs []*dto.LabelPair) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = fmt.Sprintf("%s=%q", p.GetName(), p.GetValue())
	}
	return strings.Join(parts, ",")
}

func outputRunText(f *OutputFormatter, h *host.Host, r RunResult) {
	w := f.Writer
	for _, line := range r.Console {
		fmt.Fprintf(w, "console: %s\n", line)
	}
	if r.Rejection != nil {
		fmt.Fprintf(w, "rejected: %s\n", r.Rejection.Error())
	} else {
		data, err := ir.Encode(r.Result)
		if err != nil {
			data = []byte(fmt.Sprintf("%v", r.Result))
		}
		fmt.Fprintf(w, "result: %s\n", data)
	}
	for _, e := range r.Exceptions {
		fmt.Fprintf(w, "exception: %s\n", e)
	}
	for _, m := range r.Metrics {
		if m.Labels != "" {
			fmt.Fprintf(w, "metric: %s{%s} %g\n", m.Name, m.Labels, m.Value)
		} else {
			fmt.Fprintf(w, "metric: %s %g\n", m.Name, m.Value)
		}
	}
	if h.Session != nil {
		f.VerboseLog("Diagnostics session %s", h.Session.ID())
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
