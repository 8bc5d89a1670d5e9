package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/lazyjit/internal/engine"
	"github.com/roach88/lazyjit/internal/orc"
	"github.com/roach88/lazyjit/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Library  string
	Lookup   []string
	Remove   []string
	Database string
	RunID    string
}

// RunResult is the outcome of one run.
type RunResult struct {
	RunID   string      `json:"run_id,omitempty"`
	Library string      `json:"library"`
	Units   []UnitRow   `json:"units"`
	Symbols []LookupRow `json:"symbols"`
}

// UnitRow names the unit a file was added as.
type UnitRow struct {
	File string `json:"file"`
	Key  string `json:"key"`
}

// LookupRow is one resolved symbol.
type LookupRow struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Flags   string `json:"flags"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <file>...",
		Short: "Add units to a library and look symbols up",
		Long: `Start the engine, add every file as a unit of one library, then remove
and look up the requested symbols. Only units providing a looked-up
symbol are compiled and linked; the rest are withdrawn at exit.

With --db (or store_path in the config) every event and linked image is
recorded under the run ID, which defaults to a fresh UUIDv7.

Examples:
  lazyjit run lib.ll util.o --lookup main
  lazyjit run --library tools helpers.ll --lookup helper --db ./lazyjit.db
  lazyjit run lib.ll --remove old_entry --lookup entry --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Library, "library", "l", "", "library to add units to (default: the main library)")
	cmd.Flags().StringSliceVar(&opts.Lookup, "lookup", nil, "symbols to look up")
	cmd.Flags().StringSliceVar(&opts.Remove, "remove", nil, "symbols to remove before lookup")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store_path)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run ID to record under (default: a new UUIDv7)")

	return cmd
}

func runEngine(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := opts.LoadConfig()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConfig, "invalid config", err)
	}
	logger := opts.Logger(cfg, cmd.ErrOrStderr())

	inputs, err := LoadInputs(paths)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, "failed to load input", err)
	}

	engOpts := []engine.Option{engine.WithLogger(logger)}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.StorePath
	}
	runID := ""
	if dbPath != "" {
		logger.Info("opening database", "path", dbPath)
		st, err := store.Open(dbPath)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		runID = opts.RunID
		if runID == "" {
			runID = uuid.Must(uuid.NewV7()).String()
		}
		engOpts = append(engOpts, engine.WithStore(st, runID))
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, engOpts...)
	if err != nil {
		return formatter.Fail(ExitFailure, errorCode(err, ErrCodeGeneric), "failed to create engine", err)
	}

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	logger.Debug("engine started", "workers", cfg.Workers, "compiler", cfg.Compiler)

	result, runErr := drive(ctx, eng, opts, inputs, logger)

	// Close with a fresh context so an interrupt still records the run.
	closeErr := eng.Close(context.WithoutCancel(ctx))
	if err := <-done; err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return formatter.Fail(ExitFailure, errorCode(runErr, ErrCodeGeneric), "run failed", runErr)
	}
	if closeErr != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "failed to record run", closeErr)
	}
	logger.Info("engine stopped gracefully")

	result.RunID = runID
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	rows := make([][]string, len(result.Symbols))
	for i, s := range result.Symbols {
		rows[i] = []string{s.Name, s.Address, s.Flags}
	}
	if err := formatter.Table([]string{"SYMBOL", "ADDRESS", "FLAGS"}, rows, result); err != nil {
		return err
	}
	if runID != "" {
		fmt.Fprintf(formatter.Writer, "Recorded run %s\n", runID)
	}
	return nil
}

// drive adds the inputs and performs the requested removals and lookup.
func drive(ctx context.Context, eng *engine.Engine, opts *RunOptions, inputs []*Input, logger *slog.Logger) (*RunResult, error) {
	lib, err := eng.Library(opts.Library)
	if err != nil {
		return nil, err
	}
	result := &RunResult{Library: lib.Name(), Units: []UnitRow{}, Symbols: []LookupRow{}}

	for _, in := range inputs {
		key, err := in.AddTo(eng, opts.Library)
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", in.Path, err)
		}
		logger.Debug("unit added", "file", in.Path, "key", key, "library", lib.Name())
		result.Units = append(result.Units, UnitRow{File: in.Path, Key: string(key)})
	}

	if len(opts.Remove) > 0 {
		if err := eng.Remove(opts.Library, opts.Remove...); err != nil {
			return nil, fmt.Errorf("remove: %w", err)
		}
	}

	if len(opts.Lookup) == 0 {
		return result, nil
	}
	found, err := eng.Lookup(ctx, opts.Library, opts.Lookup...)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	for _, name := range sortedKeys(found) {
		def := found[name]
		result.Symbols = append(result.Symbols, LookupRow{
			Name:    name,
			Address: fmt.Sprintf("0x%x", def.Address),
			Flags:   def.Flags.String(),
		})
	}
	return result, nil
}

func sortedKeys(m map[string]orc.SymbolDef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
