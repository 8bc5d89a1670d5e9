package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lazyjit/internal/orc"
	"github.com/roach88/lazyjit/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Key      string // optional - filter to one unit
	Images   bool
}

// TraceResult is a recorded run.
type TraceResult struct {
	RunID  string       `json:"run_id"`
	Events []orc.Event  `json:"events"`
	Images []ImageEntry `json:"images,omitempty"`
	Stats  TraceStats   `json:"stats"`
}

// ImageEntry is one symbol placed by the linker.
type ImageEntry struct {
	Key     string `json:"key"`
	Library string `json:"library"`
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

// TraceStats counts events by kind.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Units       int            `json:"units"`
	ByKind      map[string]int `json:"by_kind"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Show recorded runs and their event logs",
		Long: `Query the event log a run recorded with --db.

Without a run ID, lists every recorded run with its event count. With
one, prints the run's events in clock order and, with --images, the
addresses the linker assigned.

Examples:
  lazyjit trace --db ./lazyjit.db
  lazyjit trace --db ./lazyjit.db 0192f7c1-... --images
  lazyjit trace --db ./lazyjit.db 0192f7c1-... --key lib.ll --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runTrace(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Key, "key", "", "filter to one unit key")
	cmd.Flags().BoolVar(&opts.Images, "images", false, "include linked symbol addresses")

	return cmd
}

func runTrace(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := context.Background()

	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	if runID == "" {
		return listRuns(ctx, st, formatter)
	}

	runs, err := st.ReadRuns(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read runs", err)
	}
	if !slices.ContainsFunc(runs, func(r store.Run) bool { return r.ID == runID }) {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("run not found: %s", runID), nil)
	}

	var events []orc.Event
	if opts.Key != "" {
		events, err = st.ReadUnitEvents(ctx, runID, orc.ModuleKey(opts.Key))
	} else {
		events, err = st.ReadEvents(ctx, runID)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read events", err)
	}

	result := TraceResult{RunID: runID, Events: events, Stats: traceStats(events)}
	if opts.Images {
		if result.Images, err = readImages(ctx, st, runID, opts.Key); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read images", err)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	rows := make([][]string, len(events))
	for i, ev := range events {
		rows[i] = []string{
			strconv.FormatInt(ev.Seq, 10),
			string(ev.Kind),
			ev.Library,
			string(ev.Key),
			strings.Join(ev.Symbols, " "),
		}
	}
	if err := formatter.Table([]string{"SEQ", "KIND", "LIBRARY", "KEY", "SYMBOLS"}, rows, result); err != nil {
		return err
	}

	if len(result.Images) > 0 {
		imgRows := make([][]string, len(result.Images))
		for i, img := range result.Images {
			imgRows[i] = []string{img.Key, img.Library, img.Symbol, img.Address}
		}
		if err := formatter.Table([]string{"KEY", "LIBRARY", "SYMBOL", "ADDRESS"}, imgRows, result); err != nil {
			return err
		}
	}

	fmt.Fprintf(formatter.Writer, "%d events across %d units\n", result.Stats.TotalEvents, result.Stats.Units)
	return nil
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.ReadRuns(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read runs", err)
	}
	if formatter.Format != "json" && len(runs) == 0 {
		return formatter.Success("No runs recorded.")
	}

	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{r.ID, strconv.Itoa(r.Events)}
	}
	return formatter.Table([]string{"RUN", "EVENTS"}, rows, runs)
}

func readImages(ctx context.Context, st *store.Store, runID, key string) ([]ImageEntry, error) {
	images, err := st.ReadImages(ctx, runID)
	if err != nil {
		return nil, err
	}
	var out []ImageEntry
	for _, img := range images {
		if key != "" && string(img.Key) != key {
			continue
		}
		names := make([]string, 0, len(img.Symbols))
		for name := range img.Symbols {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			out = append(out, ImageEntry{
				Key:     string(img.Key),
				Library: img.Library,
				Symbol:  name,
				Address: fmt.Sprintf("0x%x", img.Symbols[name]),
			})
		}
	}
	return out, nil
}

func traceStats(events []orc.Event) TraceStats {
	stats := TraceStats{TotalEvents: len(events), ByKind: map[string]int{}}
	units := map[orc.ModuleKey]bool{}
	for _, ev := range events {
		stats.ByKind[string(ev.Kind)]++
		units[ev.Key] = true
	}
	stats.Units = len(units)
	return stats
}
