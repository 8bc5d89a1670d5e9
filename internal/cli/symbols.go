package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/lazyjit/internal/engine"
)

// SymbolRow is one symbol a unit would define.
type SymbolRow struct {
	File  string `json:"file"`
	Name  string `json:"name"`
	Flags string `json:"flags"`
}

// NewSymbolsCommand creates the symbols command.
func NewSymbolsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols <file>...",
		Short: "List the symbols units would define",
		Long: `Scan LLVM IR (.ll) files and ELF relocatable objects and print the
externally visible symbols each would define, with their flags.

Names are mangled with the configured global prefix, exactly as a
library would see them. Nothing is materialized.

Examples:
  lazyjit symbols lib.ll util.o
  lazyjit symbols --config lazyjit.cue --format json lib.ll`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSymbols(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runSymbols(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.LoadConfig()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConfig, "invalid config", err)
	}
	inputs, err := LoadInputs(paths)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, "failed to load input", err)
	}

	ctx := context.Background()
	eng, err := engine.New(ctx, cfg, engine.WithLogger(opts.Logger(cfg, cmd.ErrOrStderr())), engine.WithSynchronous())
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConfig, "failed to create engine", err)
	}
	defer eng.Close(ctx)

	rows := []SymbolRow{}
	for _, in := range inputs {
		flags, err := in.Flags(eng.Session())
		if err != nil {
			return formatter.Fail(ExitFailure, errorCode(err, ErrCodeLoadFailed), "failed to scan "+in.Path, err)
		}
		formatter.VerboseLog("%s: %d symbol(s)", in.Path, len(flags))
		for _, name := range flags.Names() {
			rows = append(rows, SymbolRow{File: in.Path, Name: name.String(), Flags: flags[name].String()})
		}
	}

	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{r.File, r.Name, r.Flags}
	}
	return formatter.Table([]string{"FILE", "SYMBOL", "FLAGS"}, table, rows)
}
