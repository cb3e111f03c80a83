package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/module"
)

// StubTable is the module table handed to scripts plus its fingerprint.
// The fingerprint changes whenever an id, method, convention, arity or
// constant changes.
type StubTable struct {
	Fingerprint string          `json:"fingerprint"`
	Modules     []module.Config `json:"modules"`
}

// NewModulesCommand creates the modules command.
func NewModulesCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "modules [manifests-dir]",
		Short: "Show the module table handed to scripts",
		Long: `Register the modules of a manifests directory and print the stub table
that scripts receive: module ids, method ids, calling conventions and
constants.

Example:
  tether modules ./modules
  tether modules --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				dir = args[0]
			}
			return runModules(rootOpts, dir, cmd)
		},
	}
	return cmd
}

func runModules(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), "failed to load config", err)
	}
	dir = manifestDir(dir, cfg)

	mods, err := buildModules(dir)
	if err != nil {
		return formatter.fail(ExitCommandError, loadErrorCode(err), "failed to load manifests", err)
	}

	reg := module.NewRegistry(module.WithDuplicatePolicy(cfg.DuplicatePolicy()))
	for _, m := range mods {
		if _, err := reg.Register(m); err != nil {
			return formatter.fail(ExitFailure, ErrCodeManifest, "failed to register module", err)
		}
	}
	table, err := stubTable(reg.Config())
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeGeneric, "failed to fingerprint module table", err)
	}

	return formatter.Result(table, func() error { return outputModulesText(formatter, table) })
}

func stubTable(configs []module.Config) (StubTable, error) {
	raw, err := json.Marshal(configs)
	if err != nil {
		return StubTable{}, err
	}
	v, err := ir.Decode(raw)
	if err != nil {
		return StubTable{}, err
	}
	fp, err := ir.Digest(ir.DomainStubTable, v)
	if err != nil {
		return StubTable{}, err
	}
	return StubTable{Fingerprint: fp, Modules: configs}, nil
}

func outputModulesText(f *OutputFormatter, table StubTable) error {
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tMETHOD\tCONVENTION\tARITY")
	for _, c := range table.Modules {
		for i, m := range c.Methods {
			arity := fmt.Sprintf("%d", m.Arity)
			if m.Optional > 0 {
				arity = fmt.Sprintf("%d-%d", m.Required(), m.Arity)
			}
			fmt.Fprintf(tw, "%d:%s\t%d:%s\t%s\t%s\n", c.ID, c.Name, i, m.Name, m.Convention, arity)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, c := range table.Modules {
		if len(c.Constants) == 0 {
			continue
		}
		data, err := ir.MarshalCanonical(c.Constants)
		if err != nil {
			return err
		}
		fmt.Fprintf(f.Writer, "%s constants: %s\n", c.Name, data)
	}
	fmt.Fprintf(f.Writer, "fingerprint: %s\n", table.Fingerprint)
	return nil
}
