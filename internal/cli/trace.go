package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/queryir"
	"github.com/roach88/tether/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	List     bool
	Summary  bool
	Where    []string
	Limit    int
}

// SessionTrace is the recorded diagnostics of one session.
type SessionTrace struct {
	Session      store.SessionInfo      `json:"session"`
	Calls        []store.CallRow        `json:"calls,omitempty"`
	Transactions []store.TransactionRow `json:"transactions,omitempty"`
	Summary      []store.MethodSummary  `json:"summary,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect a diagnostics database",
		Long: `Show the calls and mounting transactions recorded by tether run --db.

Without --session, the most recent session is shown. --where filters
calls by column (seq, call_id, module, method, convention, state, code);
a comma-separated value matches any of its items.

Exit codes:
  0 - Trace printed
  2 - Database or session not found

Example:
  tether trace --db ./tether.db --list
  tether trace --db ./tether.db --session 0190b5c2-... --summary
  tether trace --db ./tether.db --where state=failed --where module=Counter,Device`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "diagnostics database (default from config)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (default: latest)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list sessions instead of showing one")
	cmd.Flags().BoolVar(&opts.Summary, "summary", false, "show per-method totals instead of every call")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "filter calls by column=value (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many calls")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	filter, err := queryir.ParseFilter(queryir.TableCalls, opts.Where)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "invalid --where", err)
	}
	if opts.Summary && (filter != nil || opts.Limit > 0) {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "--summary cannot be combined with --where or --limit", nil)
	}

	path := opts.Database
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return formatter.fail(ExitCommandError, loadErrorCode(err), "failed to load config", err)
		}
		path = cfg.Store.Path
	}
	if path == "" {
		return formatter.fail(ExitCommandError, ErrCodeStore, "no database given (use --db or [store] path)", nil)
	}
	// A missing file is not-found, not a store failure.
	if _, err := os.Stat(path); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", path), err)
	}

	st, err := store.Open(path, store.WithReadOnly())
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.List {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "failed to list sessions", err)
		}
		return formatter.Result(sessions, func() error {
			outputSessionsText(formatter, sessions)
			return nil
		})
	}

	trace, err := readTrace(ctx, st, opts, filter)
	if errors.Is(err, sql.ErrNoRows) {
		msg := "no sessions recorded"
		if opts.Session != "" {
			msg = fmt.Sprintf("session not found: %s", opts.Session)
		}
		return formatter.fail(ExitCommandError, ErrCodeNotFound, msg, nil)
	}
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to read session", err)
	}

	formatter.SessionID = trace.Session.ID
	return formatter.Result(trace, func() error { return outputTraceText(formatter, trace) })
}

func readTrace(ctx context.Context, st *store.Store, opts *TraceOptions, filter queryir.Predicate) (*SessionTrace, error) {
	var info store.SessionInfo
	var err error
	if opts.Session != "" {
		info, err = st.ReadSession(ctx, opts.Session)
	} else {
		info, err = st.LatestSession(ctx)
	}
	if err != nil {
		return nil, err
	}

	trace := &SessionTrace{Session: info}
	if opts.Summary {
		if trace.Summary, err = st.SummarizeCalls(ctx, info.ID); err != nil {
			return nil, err
		}
		return trace, nil
	}
	if trace.Calls, err = st.QueryCalls(ctx, info.ID, filter, opts.Limit); err != nil {
		return nil, err
	}
	// Transactions have no call columns; a call filter hides them.
	if filter != nil || opts.Limit > 0 {
		return trace, nil
	}
	if trace.Transactions, err = st.ReadTransactions(ctx, info.ID); err != nil {
		return nil, err
	}
	return trace, nil
}

func outputSessionsText(f *OutputFormatter, sessions []store.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Fprintln(f.Writer, "no sessions recorded")
		return
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tRUNTIME\tWIRE")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.StartedAt.Format(time.RFC3339), s.RuntimeVersion, s.WireVersion)
	}
	_ = tw.Flush()
}

func outputTraceText(f *OutputFormatter, t *SessionTrace) error {
	fmt.Fprintf(f.Writer, "session %s (runtime %s, abi %s, started %s)\n",
		t.Session.ID, t.Session.RuntimeVersion, t.Session.ABI, t.Session.StartedAt.Format(time.RFC3339))

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	if t.Summary != nil {
		fmt.Fprintln(tw, "\nMETHOD\tCALLS\tFAILED\tTOTAL")
		for _, m := range t.Summary {
			fmt.Fprintf(tw, "%s.%s\t%d\t%d\t%s\n", m.Module, m.Method, m.Calls, m.Failures, m.Total)
		}
		return tw.Flush()
	}

	fmt.Fprintln(tw, "\nSEQ\tCALL\tMETHOD\tCONVENTION\tSTATE\tDURATION")
	for _, c := range t.Calls {
		state := c.State
		if c.Code != "" {
			state += " " + c.Code
		}
		fmt.Fprintf(tw, "%d\t%d\t%s.%s\t%s\t%s\t%s\n", c.Seq, c.CallID, c.Module, c.Method, c.Convention, state, c.Duration)
	}
	if len(t.Transactions) > 0 {
		fmt.Fprintln(tw, "\nSURFACE\tSEQ\tMUTATIONS\tKINDS\tMOUNT\tFAILURE")
		for _, tx := range t.Transactions {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n", tx.SurfaceID, tx.Seq, tx.MutationCount, kindsString(tx.Kinds), tx.Mount, tx.Failure)
		}
	}
	return tw.Flush()
}

func kindsString(kinds map[string]int) string {
	keys := make([]string, 0, len(kinds))
	for k := range kinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%s=%d", k, kinds[k])
	}
	return out
}
